package ingest

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) ObserveTransaction(set, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, set+":"+outcome)
}

func TestProcessor_IsolatesTransactions(t *testing.T) {
	f := newFixture(t)
	recorder := &outcomeRecorder{}
	f.processor = NewProcessor(f.deps, f.notifier, recorder)

	res := f.process(t,
		txn("850", "0001", beg("00", "PO1", 0), po1(1, "1", "EA", "1.00", "S1", "B1", "")),
		txn("850", "0002", po1(1, "1", "EA", "1.00", "S2", "B2", "")),
		txn("850", "0003", beg("00", "PO3", 0), po1(1, "1", "EA", "1.00", "S3", "B3", "")),
	)

	require.Len(t, res.Transactions, 3)
	assert.Equal(t, OutcomeApplied, res.Transactions[0].Outcome)
	assert.Equal(t, OutcomeFailed, res.Transactions[1].Outcome)
	assert.Equal(t, KindStructural, res.Transactions[1].ErrorKind)
	assert.Equal(t, OutcomeApplied, res.Transactions[2].Outcome)
	assert.Equal(t, 1, res.Failed())

	assert.Equal(t, int64(2), f.count(t, &model.Order{}))
	f.order(t, "PO1")
	f.order(t, "PO3")

	failures := f.notifier.all()
	require.Len(t, failures, 1)
	assert.Equal(t, "0002", failures[0].ControlNumber)
	assert.Equal(t, "test.edi", failures[0].FileName)
	assert.Equal(t, []string{"850:applied", "850:failed", "850:applied"}, recorder.outcomes)
}

func TestProcessor_IsolatesBusinessFailure(t *testing.T) {
	f := newFixture(t)

	res := f.process(t,
		txn("850", "0001", beg("00", "PO1", 0), po1(1, "1", "EA", "1.00", "S1", "B1", "")),
		packItemNotice("20240105"),
		txn("850", "0003", beg("00", "PO3", 0), po1(1, "1", "EA", "1.00", "S3", "B3", "")),
	)

	require.Len(t, res.Transactions, 3)
	assert.Equal(t, OutcomeApplied, res.Transactions[0].Outcome)
	assert.Equal(t, OutcomeFailed, res.Transactions[1].Outcome)
	assert.Equal(t, KindBusiness, res.Transactions[1].ErrorKind)
	assert.Contains(t, res.Transactions[1].Error, "ACM-PO100")
	assert.Equal(t, OutcomeApplied, res.Transactions[2].Outcome)

	assert.Len(t, f.order(t, "PO1").Lines, 1)
	assert.Len(t, f.order(t, "PO3").Lines, 1)
	assert.Equal(t, int64(0), f.count(t, &model.ShipmentLine{}))

	failures := f.notifier.all()
	require.Len(t, failures, 1)
	assert.Equal(t, "856", failures[0].SetID)
	assert.Equal(t, string(KindBusiness), failures[0].Kind)
}

func TestProcessor_IgnoresOtherSets(t *testing.T) {
	f := newFixture(t)
	res := f.processOne(t, txn("810", "0001", edi.NewSegment("BIG", "20240101", "INV1")))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.notifier.all())
}

func TestProcessor_UnknownImporter(t *testing.T) {
	f := newFixture(t)
	f.deps.Partner.SystemCode = "NOPE"
	f.processor = NewProcessor(f.deps, f.notifier, nil)

	res := f.processOne(t, standardOrder(1, "10"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, KindBusiness, res.ErrorKind)
	assert.Equal(t, int64(0), f.count(t, &model.Order{}))
}

func TestProcessor_ProcessFile(t *testing.T) {
	f := newFixture(t)

	input := "ISA*00*          *00*          *ZZ*SENDER         *ZZ*RECEIVER       *240101*1200*U*00401*000000001*0*P*>~" +
		"GS*PO*SENDER*RECEIVER*20240101*1200*1*X*004010~" +
		"ST*850*0001~BEG*00*SA*PO9*1*20240101~PO1*1*2*EA*4.00**IT*STYLE9*IN*BIN9~SE*4*0001~" +
		"GE*1*1~IEA*1*000000001~"

	res, err := f.processor.ProcessFile(f.ctx, "orders.edi", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, OutcomeApplied, res.Transactions[0].Outcome)
	assert.Equal(t, "orders.edi", res.FileName)

	order := f.order(t, "PO9")
	require.Len(t, order.Lines, 1)
	assertDecimal(t, "2", order.Lines[0].Quantity)
}

func TestProcessor_ProcessFileMalformed(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.ProcessFile(f.ctx, "broken.edi", strings.NewReader("ST*850*0001~BEG*00*SA*PO1~"))
	require.Error(t, err)
	assert.ErrorIs(t, err, edi.ErrMalformedInterchange)

	failures := f.notifier.all()
	require.Len(t, failures, 1)
	assert.Equal(t, string(KindStructural), failures[0].Kind)
	assert.Equal(t, "broken.edi", failures[0].FileName)
}
