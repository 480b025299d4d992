package ingest

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// changeSet collects the names of fields an assembler changed. Nothing is
// written, and no snapshot is taken, unless it is dirty.
type changeSet struct {
	fields []string
}

func (c *changeSet) mark(field string) {
	c.fields = append(c.fields, field)
}

func (c *changeSet) dirty() bool {
	return len(c.fields) > 0
}

func (c *changeSet) merge(other changeSet) {
	c.fields = append(c.fields, other.fields...)
}

func set[T comparable](c *changeSet, field string, dst *T, v T) {
	if *dst != v {
		*dst = v
		c.mark(field)
	}
}

func setDecimal(c *changeSet, field string, dst *decimal.Decimal, v decimal.Decimal) {
	if !dst.Equal(v) {
		*dst = v
		c.mark(field)
	}
}

func setTime(c *changeSet, field string, dst **time.Time, v *time.Time) {
	cur := *dst
	if cur == nil && v == nil {
		return
	}
	if cur != nil && v != nil && cur.Equal(*v) {
		return
	}
	*dst = v
	c.mark(field)
}

func setAttributes(c *changeSet, field string, dst *map[string]string, v map[string]string) {
	if maps.Equal(*dst, v) {
		return
	}
	*dst = v
	c.mark(field)
}

func setPtr[T comparable](c *changeSet, field string, dst **T, v *T) {
	cur := *dst
	if cur == nil && v == nil {
		return
	}
	if cur != nil && v != nil && *cur == *v {
		return
	}
	*dst = v
	c.mark(field)
}
