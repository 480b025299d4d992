// Package edi holds the X12 segment model and the extraction helpers used by
// the 850 and 856 assemblers. It does not validate documents against an X12
// schema; callers read the element positions they need and ignore the rest.
package edi

import "strings"

// Segment is a tagged, ordered list of elements exactly as received.
// Elements[0] holds the XX01 element.
type Segment struct {
	Tag      string   `json:"tag"`
	Elements []string `json:"elements"`
}

// NewSegment builds a segment from a tag and its elements.
func NewSegment(tag string, elements ...string) Segment {
	return Segment{Tag: tag, Elements: elements}
}

// Element returns the element at the X12 1-based position n (Element(1) is
// XX01), or "" when the segment is shorter than n.
func (s Segment) Element(n int) string {
	if n < 1 || n > len(s.Elements) {
		return ""
	}
	return strings.TrimSpace(s.Elements[n-1])
}

// Transaction is one ST..SE envelope. Segments include the ST and SE segments.
type Transaction struct {
	SetID         string    `json:"setId"`         // ST01, e.g. 850 or 856
	ControlNumber string    `json:"controlNumber"` // ST02
	Segments      []Segment `json:"segments"`
}

// FindFirst returns the first segment with the given tag.
func FindFirst(segments []Segment, tag string) (Segment, bool) {
	for _, s := range segments {
		if s.Tag == tag {
			return s, true
		}
	}
	return Segment{}, false
}

// FindAll returns every segment with the given tag, in order.
func FindAll(segments []Segment, tag string) []Segment {
	var found []Segment
	for _, s := range segments {
		if s.Tag == tag {
			found = append(found, s)
		}
	}
	return found
}

// FindQualified returns the first segment with the given tag whose element at
// position pos equals qualifier (REF*BM, DTM*011, N1*FW ...).
func FindQualified(segments []Segment, tag string, pos int, qualifier string) (Segment, bool) {
	for _, s := range segments {
		if s.Tag == tag && s.Element(pos) == qualifier {
			return s, true
		}
	}
	return Segment{}, false
}

// qualifierPairStart is the 1-based position of the first qualifier of the
// product/service id pairs carried by a segment. PO1 pairs start at PO106,
// SLN pairs at SLN09 and LIN pairs at LIN02.
var qualifierPairStart = map[string]int{
	"PO1": 6,
	"SLN": 9,
	"LIN": 2,
}

// QualifiedValue scans the segment's qualifier/value pairs and returns the
// value that follows qualifier. Only every other element, starting at the
// tag's first pair position, is treated as a qualifier, so a value that
// happens to equal a qualifier code is never mistaken for one.
func QualifiedValue(s Segment, qualifier string) (string, bool) {
	start, ok := qualifierPairStart[s.Tag]
	if !ok {
		start = 1
	}
	for i := start; i < len(s.Elements); i += 2 {
		if s.Element(i) == qualifier {
			return s.Element(i + 1), true
		}
	}
	return "", false
}

// Value returns the qualified value or "".
func Value(s Segment, qualifier string) string {
	v, _ := QualifiedValue(s, qualifier)
	return v
}

// Before returns the segments that precede the first segment with tag.
func Before(segments []Segment, tag string) []Segment {
	for i, s := range segments {
		if s.Tag == tag {
			return segments[:i]
		}
	}
	return segments
}
