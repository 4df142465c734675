package invoice

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// SequenceSource hands out the next value of an atomic per-(tenant, day)
// counter. The storage layer owns the increment; two concurrent callers
// can never observe the same value.
type SequenceSource interface {
	NextInvoiceSequence(ctx context.Context, tenantID string, day string) (int, error)
}

// Allocator produces human-readable invoice numbers of the form
// PREFIX-YYYYMMDD-NNNN, unique within a tenant. The calendar day is taken
// from the configured tenant timezone and the sequence restarts at local
// midnight; uniqueness across days is still guaranteed because the day is
// part of the number.
type Allocator struct {
	prefix string
	src    SequenceSource
	loc    *time.Location
	now    func() time.Time
}

func New(prefix string, src SequenceSource, loc *time.Location) *Allocator {
	if prefix == "" {
		prefix = "INV"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{
		prefix: prefix,
		src:    src,
		loc:    loc,
		now:    time.Now,
	}
}

func (a *Allocator) Allocate(ctx context.Context, tenantID string) (string, error) {
	day := a.now().In(a.loc).Format("20060102")
	seq, err := a.src.NextInvoiceSequence(ctx, tenantID, day)
	if err != nil {
		return "", fmt.Errorf("allocate invoice number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", a.prefix, day, seq), nil
}

// WithRandomSuffix appends a random 3-digit disambiguator. Used as the
// last resort when the unique-constraint retry budget is exhausted.
func WithRandomSuffix(invoiceNumber string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return fmt.Sprintf("%s-%03d", invoiceNumber, time.Now().UnixNano()%1000)
	}
	return fmt.Sprintf("%s-%03d", invoiceNumber, n.Int64())
}
