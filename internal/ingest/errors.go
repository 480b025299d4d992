package ingest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a transaction failed.
type ErrorKind string

const (
	// KindStructural marks a document the assemblers cannot interpret:
	// a missing mandatory segment or an unsupported HL structure.
	KindStructural ErrorKind = "structural"
	// KindBusiness marks a well-formed document that references data we do
	// not have, or that could not be persisted.
	KindBusiness ErrorKind = "business"
)

// TransactionError is the failure of one transaction within a file.
type TransactionError struct {
	Kind          ErrorKind
	FileName      string
	SetID         string
	ControlNumber string
	Err           error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s error in %s transaction %s (%s): %v", e.Kind, e.SetID, e.ControlNumber, e.FileName, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// kindError tags an error with its kind until the processor adds the
// transaction context.
type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func structuralf(format string, args ...any) error {
	return &kindError{kind: KindStructural, err: fmt.Errorf(format, args...)}
}

func businessf(format string, args ...any) error {
	return &kindError{kind: KindBusiness, err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind an error was tagged with. Untagged errors, such as
// database failures or exhausted lock retries, are business errors.
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindBusiness
}
