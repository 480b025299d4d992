// Package ingest applies partner 850 purchase orders and 856 ship notices
// to the order, product and shipment records.
//
// Every transaction in a file is applied on its own: a failure is reported
// for that transaction and the next one is processed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/notify"
)

// Outcome of one transaction.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped" // Older than what is stored
	OutcomeFailed  Outcome = "failed"
	OutcomeIgnored Outcome = "ignored" // Transaction set we do not process
)

// Transaction set identifiers.
const (
	SetPurchaseOrder = "850"
	SetShipNotice    = "856"
)

type applyResult struct {
	key     string
	applied bool
}

// TransactionResult reports what happened to one transaction.
type TransactionResult struct {
	SetID         string    `json:"setId"`
	ControlNumber string    `json:"controlNumber"`
	Key           string    `json:"key,omitempty"` // Order number or shipment reference
	Outcome       Outcome   `json:"outcome"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// FileResult reports every transaction of one file, in file order.
type FileResult struct {
	FileName     string              `json:"fileName"`
	ArchiveKey   string              `json:"archiveKey,omitempty"`
	Transactions []TransactionResult `json:"transactions"`
}

// Failed is the number of failed transactions.
func (r FileResult) Failed() int {
	n := 0
	for _, t := range r.Transactions {
		if t.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// Recorder receives per-transaction measurements.
type Recorder interface {
	ObserveTransaction(set, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransaction(string, string, time.Duration) {}

// Processor dispatches transactions to the assemblers.
type Processor struct {
	deps      Deps
	orders    *OrderAssembler
	shipments *ShipmentAssembler
	notifier  notify.Notifier
	recorder  Recorder
}

func NewProcessor(deps Deps, notifier notify.Notifier, recorder Recorder) *Processor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{}
	}
	return &Processor{
		deps:      deps,
		orders:    NewOrderAssembler(deps, NewProductResolver(deps)),
		shipments: NewShipmentAssembler(deps),
		notifier:  notifier,
		recorder:  recorder,
	}
}

// ProcessFile reads an interchange and processes its transactions. The error
// is only set when the file itself cannot be read.
func (p *Processor) ProcessFile(ctx context.Context, fileName string, r io.Reader) (*FileResult, error) {
	txns, err := edi.ReadInterchange(r)
	if err != nil {
		p.report(ctx, &TransactionError{Kind: KindStructural, FileName: fileName, Err: err})
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}
	return p.ProcessTransactions(ctx, fileName, txns), nil
}

// ProcessTransactions applies txns in order.
func (p *Processor) ProcessTransactions(ctx context.Context, fileName string, txns []edi.Transaction) *FileResult {
	result := &FileResult{FileName: fileName, Transactions: make([]TransactionResult, 0, len(txns))}
	for _, txn := range txns {
		result.Transactions = append(result.Transactions, p.processTransaction(ctx, fileName, txn))
	}
	slog.InfoContext(ctx, "file processed",
		"file", fileName,
		"transactions", len(txns),
		"failed", result.Failed(),
	)
	return result
}

func (p *Processor) processTransaction(ctx context.Context, fileName string, txn edi.Transaction) (res TransactionResult) {
	start := time.Now()
	res = TransactionResult{SetID: txn.SetID, ControlNumber: txn.ControlNumber}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while applying transaction", "file", fileName, "control", txn.ControlNumber, "panic", r)
			res = p.fail(ctx, fileName, txn, res.Key, businessf("panic: %v", r))
		}
		p.recorder.ObserveTransaction(txn.SetID, string(res.Outcome), time.Since(start))
	}()

	var apply func(context.Context, *document) (applyResult, error)
	switch txn.SetID {
	case SetPurchaseOrder:
		apply = p.orders.Apply
	case SetShipNotice:
		apply = p.shipments.Apply
	default:
		slog.InfoContext(ctx, "ignoring transaction set", "file", fileName, "set", txn.SetID, "control", txn.ControlNumber)
		res.Outcome = OutcomeIgnored
		return res
	}

	importer, err := p.deps.Directory.Importer(ctx, p.deps.Partner.SystemCode)
	if err != nil {
		return p.fail(ctx, fileName, txn, "", businessf("importer %s: %w", p.deps.Partner.SystemCode, err))
	}

	out, err := apply(ctx, &document{fileName: fileName, txn: txn, importer: importer})
	if err != nil {
		return p.fail(ctx, fileName, txn, out.key, err)
	}
	res.Key = out.key
	res.Outcome = OutcomeSkipped
	if out.applied {
		res.Outcome = OutcomeApplied
	}
	slog.InfoContext(ctx, "transaction processed",
		"file", fileName,
		"set", txn.SetID,
		"control", txn.ControlNumber,
		"key", out.key,
		"outcome", res.Outcome,
	)
	return res
}

func (p *Processor) fail(ctx context.Context, fileName string, txn edi.Transaction, key string, err error) TransactionResult {
	te := &TransactionError{
		Kind:          KindOf(err),
		FileName:      fileName,
		SetID:         txn.SetID,
		ControlNumber: txn.ControlNumber,
		Err:           err,
	}
	p.report(ctx, te)
	return TransactionResult{
		SetID:         txn.SetID,
		ControlNumber: txn.ControlNumber,
		Key:           key,
		Outcome:       OutcomeFailed,
		ErrorKind:     te.Kind,
		Error:         err.Error(),
	}
}

func (p *Processor) report(ctx context.Context, te *TransactionError) {
	f := notify.Failure{
		FileName:      te.FileName,
		SetID:         te.SetID,
		ControlNumber: te.ControlNumber,
		Kind:          string(te.Kind),
		Message:       te.Err.Error(),
		OccurredAt:    time.Now().UTC(),
	}
	if err := p.notifier.Notify(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "failed to deliver failure notification", "file", te.FileName, "error", err)
	}
}
