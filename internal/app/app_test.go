package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/database/dbtest"
	"github.com/OpenNSW/edibridge/internal/ingest"
	"github.com/OpenNSW/edibridge/internal/lock"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Type: "local", LocalBaseDir: t.TempDir()},
		Partner: config.PartnerConfig{
			SystemCode:         "ACME",
			Prefix:             "ACM",
			DestinationCountry: "US",
			Ports:              map[string]string{"CNSHA": "Shanghai", "USLAX": "Los Angeles"},
		},
		Locking: config.LockingConfig{Mode: "local", MaxAttempts: 2, Backoff: time.Millisecond},
		Notify:  config.NotifyConfig{Provider: "log"},
	}
}

func TestWire(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)

	a, err := wire(ctx, testConfig(t), db)
	require.NoError(t, err)

	res, err := a.Runner.Receive(ctx, "po.edi", strings.NewReader(
		"ST*850*0001~BEG*00*SA*PO1*1*20240101~PO1*1*2*EA*1.00**IT*S1*IN*B1*UP*000000000011~SE*4*0001~"))
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, ingest.OutcomeApplied, res.Transactions[0].Outcome)

	order, err := a.Records.GetOrder(ctx, "ACM-PO1")
	require.NoError(t, err)
	assert.Len(t, order.Lines, 1)

	var ports []model.Port
	require.NoError(t, db.Order("unlocode").Find(&ports).Error)
	require.Len(t, ports, 2)
	assert.Equal(t, "CNSHA", ports[0].UNLocode)
	assert.Equal(t, "Los Angeles", ports[1].Name)

	n, err := testutil.GatherAndCount(a.Registry, "edibridge_transactions_total", "edibridge_files_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWire_StorageError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "ftp"
	_, err := wire(context.Background(), cfg, dbtest.New(t))
	assert.Error(t, err)
}

func TestNamedLocker(t *testing.T) {
	assert.IsType(t, &lock.LocalLocker{}, namedLocker("local"))
	assert.IsType(t, &lock.AdvisoryLocker{}, namedLocker("advisory"))
}
