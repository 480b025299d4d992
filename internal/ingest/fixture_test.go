package ingest

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/OpenNSW/edibridge/internal/audit"
	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/database/dbtest"
	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/lock"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/OpenNSW/edibridge/internal/notify"
	"github.com/OpenNSW/edibridge/internal/reference"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testSystemCode = "ACME"
	testPrefix     = "ACM"
)

type recordingNotifier struct {
	mu       sync.Mutex
	failures []notify.Failure
}

func (n *recordingNotifier) Notify(_ context.Context, f notify.Failure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
	return nil
}

func (n *recordingNotifier) all() []notify.Failure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Failure(nil), n.failures...)
}

type fixture struct {
	ctx       context.Context
	db        *gorm.DB
	deps      Deps
	processor *Processor
	notifier  *recordingNotifier
	importer  *model.Company
	country   *model.Country
	port      *model.Port
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.New(t)

	dir := reference.NewDirectory(db, time.Minute)
	importer, err := dir.EnsureImporter(ctx, testSystemCode, "Acme Imports")
	require.NoError(t, err)
	country, err := dir.EnsureCountry(ctx, "US")
	require.NoError(t, err)
	port, err := dir.EnsurePort(ctx, "CNSHA", "Shanghai")
	require.NoError(t, err)

	deps := Deps{
		DB:        db,
		Named:     lock.NewLocalLocker(),
		Rows:      lock.NewRowLocker(3, time.Millisecond),
		Directory: dir,
		Audit:     audit.NewWriter(),
		Partner: config.PartnerConfig{
			SystemCode:         testSystemCode,
			Prefix:             testPrefix,
			DestinationCountry: "US",
		},
	}
	notifier := &recordingNotifier{}
	return &fixture{
		ctx:       ctx,
		db:        db,
		deps:      deps,
		processor: NewProcessor(deps, notifier, nil),
		notifier:  notifier,
		importer:  importer,
		country:   country,
		port:      port,
	}
}

func (f *fixture) process(t *testing.T, txns ...edi.Transaction) *FileResult {
	t.Helper()
	return f.processor.ProcessTransactions(f.ctx, "test.edi", txns)
}

func (f *fixture) processOne(t *testing.T, txn edi.Transaction) TransactionResult {
	t.Helper()
	res := f.process(t, txn)
	require.Len(t, res.Transactions, 1)
	return res.Transactions[0]
}

func (f *fixture) order(t *testing.T, poNumber string) *model.Order {
	t.Helper()
	var order model.Order
	err := f.db.Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&order, "order_number = ?", testPrefix+"-"+poNumber).Error
	require.NoError(t, err)
	return &order
}

func (f *fixture) product(t *testing.T, style string) *model.Product {
	t.Helper()
	var product model.Product
	err := f.db.Preload("Classifications.Tariffs", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&product, "unique_identifier = ?", testPrefix+"-"+style).Error
	require.NoError(t, err)
	return &product
}

func (f *fixture) shipment(t *testing.T, shipmentNumber string) *model.Shipment {
	t.Helper()
	var shipment model.Shipment
	err := f.db.Preload("Containers").Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&shipment, "reference = ?", testPrefix+"-"+shipmentNumber).Error
	require.NoError(t, err)
	return &shipment
}

func (f *fixture) snapshots(t *testing.T, recordableType string, id uuid.UUID) int64 {
	t.Helper()
	var n int64
	err := f.db.Model(&model.EntitySnapshot{}).
		Where("recordable_type = ? AND recordable_id = ?", recordableType, id).
		Count(&n).Error
	require.NoError(t, err)
	return n
}

func (f *fixture) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

// txn wraps body in ST/SE.
func txn(setID, control string, body ...edi.Segment) edi.Transaction {
	segs := make([]edi.Segment, 0, len(body)+2)
	segs = append(segs, edi.NewSegment("ST", setID, control))
	segs = append(segs, body...)
	segs = append(segs, edi.NewSegment("SE", strconv.Itoa(len(body)+2), control))
	return edi.Transaction{SetID: setID, ControlNumber: control, Segments: segs}
}

func beg(purpose, poNumber string, revision int) edi.Segment {
	return edi.NewSegment("BEG", purpose, "SA", poNumber, strconv.Itoa(revision), "20240101")
}

// po1 builds a PO line with a style, buyer item number, UPC and any extra
// qualifier/value pairs.
func po1(line int, qty, uom, price, style, buyerItem, upc string, pairs ...string) edi.Segment {
	elements := append([]string{strconv.Itoa(line), qty, uom, price, "", "IT", style, "IN", buyerItem, "UP", upc}, pairs...)
	return edi.NewSegment("PO1", elements...)
}

func sln(subline int, perPack, price, style, buyerItem string) edi.Segment {
	return edi.NewSegment("SLN", strconv.Itoa(subline), "", "I", perPack, "EA", price, "", "", "IT", style, "IN", buyerItem)
}

func tc2(hts string) edi.Segment {
	return edi.NewSegment("TC2", "J", hts)
}

func hl(id, parent, level string) edi.Segment {
	return edi.NewSegment("HL", id, parent, level)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}
