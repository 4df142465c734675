package invoice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingSource struct {
	mu  sync.Mutex
	seq map[string]int
}

func (s *countingSource) NextInvoiceSequence(_ context.Context, tenantID string, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == nil {
		s.seq = make(map[string]int)
	}
	key := tenantID + "|" + day
	s.seq[key]++
	return s.seq[key], nil
}

func TestAllocateFormat(t *testing.T) {
	alloc := New("INV", &countingSource{}, time.UTC)

	number, err := alloc.Allocate(context.Background(), "tenant-alpha")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	pattern := regexp.MustCompile(`^INV-\d{8}-\d{4}$`)
	if !pattern.MatchString(number) {
		t.Fatalf("invoice number %q does not match PREFIX-YYYYMMDD-NNNN", number)
	}

	today := time.Now().UTC().Format("20060102")
	if !strings.Contains(number, today) {
		t.Fatalf("invoice number %q missing today's date %s", number, today)
	}
}

func TestAllocateUsesConfiguredPrefixAndDefaults(t *testing.T) {
	alloc := New("TILL", &countingSource{}, nil)
	number, err := alloc.Allocate(context.Background(), "tenant-alpha")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if !strings.HasPrefix(number, "TILL-") {
		t.Fatalf("expected TILL prefix, got %q", number)
	}

	fallback := New("", &countingSource{}, nil)
	number, err = fallback.Allocate(context.Background(), "tenant-alpha")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if !strings.HasPrefix(number, "INV-") {
		t.Fatalf("expected INV default prefix, got %q", number)
	}
}

func TestSequenceRestartsPerDay(t *testing.T) {
	src := &countingSource{}
	alloc := New("INV", src, time.UTC)

	base := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	alloc.now = func() time.Time { return base }

	first, err := alloc.Allocate(context.Background(), "tenant-alpha")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if first != "INV-20260314-0001" {
		t.Fatalf("first allocation = %q, want INV-20260314-0001", first)
	}

	alloc.now = func() time.Time { return base.Add(time.Hour) }
	next, err := alloc.Allocate(context.Background(), "tenant-alpha")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if next != "INV-20260315-0001" {
		t.Fatalf("post-midnight allocation = %q, want INV-20260315-0001", next)
	}
}

func TestTenantTimezoneShiftsCalendarDay(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	alloc := New("INV", &countingSource{}, jakarta)
	// 20:00 UTC is already the next calendar day in UTC+7.
	alloc.now = func() time.Time { return time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC) }

	number, err := alloc.Allocate(context.Background(), "tenant-alpha")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if number != "INV-20260315-0001" {
		t.Fatalf("allocation = %q, want INV-20260315-0001", number)
	}
}

func TestConcurrentAllocationsAreDistinct(t *testing.T) {
	const workers = 50

	alloc := New("INV", &countingSource{}, time.UTC)

	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := alloc.Allocate(context.Background(), "tenant-alpha")
			if err != nil {
				t.Errorf("allocate failed: %v", err)
				return
			}
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{}, workers)
	for number := range results {
		if _, dup := seen[number]; dup {
			t.Fatalf("duplicate invoice number allocated: %s", number)
		}
		seen[number] = struct{}{}
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct numbers, got %d", workers, len(seen))
	}
}

func TestWithRandomSuffixAppendsThreeDigits(t *testing.T) {
	base := "INV-20260314-0007"
	suffixed := WithRandomSuffix(base)

	if !strings.HasPrefix(suffixed, base+"-") {
		t.Fatalf("suffixed number %q does not extend %q", suffixed, base)
	}
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s-\d{3}$`, regexp.QuoteMeta(base)))
	if !pattern.MatchString(suffixed) {
		t.Fatalf("suffixed number %q does not end in 3 digits", suffixed)
	}
}
