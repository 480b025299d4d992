package edi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedInterchange is returned when the envelope cannot be split into
// transactions.
var ErrMalformedInterchange = errors.New("malformed X12 interchange")

const (
	defaultElementSeparator  = '*'
	defaultSegmentTerminator = '~'
	isaElementCount          = 16
)

// ReadInterchange splits an X12 interchange into its ST..SE transactions.
// Delimiters are taken from the ISA header when present; data without an ISA
// header is read with '*' and '~'. Envelope segments outside ST..SE (ISA, GS,
// GE, IEA) are dropped.
func ReadInterchange(r io.Reader) ([]Transaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read interchange: %w", err)
	}
	data = bytes.TrimLeft(data, " \r\n\t\ufeff")
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedInterchange)
	}

	elementSep, terminator, err := delimiters(data)
	if err != nil {
		return nil, err
	}

	var (
		transactions []Transaction
		current      *Transaction
	)
	for _, raw := range strings.Split(string(data), string(terminator)) {
		raw = strings.Trim(raw, " \r\n\t")
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, string(elementSep))
		seg := Segment{Tag: parts[0], Elements: parts[1:]}

		switch seg.Tag {
		case "ST":
			if current != nil {
				return nil, fmt.Errorf("%w: ST %s opened before SE of %s", ErrMalformedInterchange, seg.Element(2), current.ControlNumber)
			}
			current = &Transaction{SetID: seg.Element(1), ControlNumber: seg.Element(2)}
			current.Segments = append(current.Segments, seg)
		case "SE":
			if current == nil {
				return nil, fmt.Errorf("%w: SE without ST", ErrMalformedInterchange)
			}
			current.Segments = append(current.Segments, seg)
			transactions = append(transactions, *current)
			current = nil
		default:
			if current != nil {
				current.Segments = append(current.Segments, seg)
			}
		}
	}
	if current != nil {
		return nil, fmt.Errorf("%w: transaction %s has no SE", ErrMalformedInterchange, current.ControlNumber)
	}
	if len(transactions) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrMalformedInterchange)
	}
	return transactions, nil
}

// delimiters reads the element separator (the byte after "ISA") and the
// segment terminator (the byte after the one-character ISA16).
func delimiters(data []byte) (byte, byte, error) {
	if !bytes.HasPrefix(data, []byte("ISA")) {
		return defaultElementSeparator, defaultSegmentTerminator, nil
	}
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("%w: truncated ISA", ErrMalformedInterchange)
	}
	sep := data[3]
	seen := 0
	for i := 3; i < len(data); i++ {
		if data[i] != sep {
			continue
		}
		seen++
		if seen == isaElementCount {
			// ISA16 is a single character; the terminator follows it.
			if i+2 >= len(data) {
				return 0, 0, fmt.Errorf("%w: truncated ISA", ErrMalformedInterchange)
			}
			return sep, data[i+2], nil
		}
	}
	return 0, 0, fmt.Errorf("%w: ISA has fewer than %d elements", ErrMalformedInterchange, isaElementCount)
}
