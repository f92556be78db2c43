package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/load_validator/utils"
	"github.com/shopspring/decimal"
)

func contractRecord(customerId, loadId, amount string, at time.Time, accepted bool) *LoadRecord {
	return &LoadRecord{
		CustomerId:          customerId,
		LoadId:              loadId,
		LoadAmount:          decimal.RequireFromString(amount),
		LoadTime:            at,
		DailyLimitAccepted:  true,
		WeeklyLimitAccepted: accepted,
		DailyCountAccepted:  true,
	}
}

// runLoadLedgerContract checks the behaviour every LoadLedger implementation shares.
func runLoadLedgerContract(t *testing.T, ledger LoadLedger) {
	t.Helper()
	ctx := context.Background()

	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []*LoadRecord{
		contractRecord("c1", "l1", "10.00", monday, true),
		contractRecord("c1", "l2", "20.50", monday.Add(12*time.Hour), true),
		contractRecord("c1", "l3", "99.99", monday.Add(13*time.Hour), false),
		contractRecord("c1", "l4", "5.00", monday.Add(24*time.Hour), true),
		contractRecord("c2", "l1", "1000.00", monday.Add(time.Hour), true),
	}

	if _, err := ledger.FindLoad(ctx, "c1", "l1"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("FindLoad on empty ledger: got %v, want ErrorRecordNotFound", err)
	}

	for _, r := range records {
		if err := ledger.InsertLoad(ctx, r); err != nil {
			t.Fatalf("InsertLoad %s/%s: %v", r.CustomerId, r.LoadId, err)
		}
		if r.ID == 0 {
			t.Fatalf("InsertLoad %s/%s did not assign an id", r.CustomerId, r.LoadId)
		}
	}

	dup := contractRecord("c1", "l1", "1.00", monday.Add(48*time.Hour), true)
	if err := ledger.InsertLoad(ctx, dup); !errors.Is(err, ErrDuplicateLoad) {
		t.Fatalf("duplicate InsertLoad: got %v, want ErrDuplicateLoad", err)
	}

	got, err := ledger.FindLoad(ctx, "c1", "l3")
	if err != nil {
		t.Fatalf("FindLoad: %v", err)
	}
	if !got.LoadAmount.Equal(decimal.RequireFromString("99.99")) || got.WeeklyLimitAccepted || got.Accepted() {
		t.Fatalf("FindLoad returned %+v", got)
	}
	if !got.LoadTime.Equal(monday.Add(13 * time.Hour)) {
		t.Fatalf("FindLoad time = %v", got.LoadTime)
	}

	// Original record is untouched by the duplicate attempt.
	orig, err := ledger.FindLoad(ctx, "c1", "l1")
	if err != nil {
		t.Fatalf("FindLoad l1: %v", err)
	}
	if !orig.LoadAmount.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("duplicate insert changed the stored amount: %s", orig.LoadAmount)
	}

	endOfMonday := monday.Add(24*time.Hour - time.Second)
	sum, err := ledger.SumAcceptedAmount(ctx, "c1", monday, endOfMonday)
	if err != nil {
		t.Fatalf("SumAcceptedAmount: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("30.50")) {
		t.Fatalf("monday sum = %s, want 30.50 (rejected load excluded)", sum)
	}

	count, err := ledger.CountAccepted(ctx, "c1", monday, endOfMonday)
	if err != nil {
		t.Fatalf("CountAccepted: %v", err)
	}
	if count != 2 {
		t.Fatalf("monday count = %d, want 2", count)
	}

	// Both bounds are inclusive.
	at := monday.Add(12 * time.Hour)
	sum, err = ledger.SumAcceptedAmount(ctx, "c1", at, at)
	if err != nil {
		t.Fatalf("SumAcceptedAmount point: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("20.50")) {
		t.Fatalf("point sum = %s, want 20.50", sum)
	}

	sum, err = ledger.SumAcceptedAmount(ctx, "c1", monday, monday.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SumAcceptedAmount: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("35.50")) {
		t.Fatalf("sum through tuesday midnight = %s, want 35.50", sum)
	}

	sum, err = ledger.SumAcceptedAmount(ctx, "nobody", monday, monday.Add(time.Hour))
	if err != nil {
		t.Fatalf("SumAcceptedAmount unknown customer: %v", err)
	}
	if !sum.IsZero() {
		t.Fatalf("unknown customer sum = %s, want 0", sum)
	}

	list, err := ledger.ListLoads(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("ListLoads: %v", err)
	}
	wantOrder := []string{"l4", "l3", "l2", "l1"}
	if len(list) != len(wantOrder) {
		t.Fatalf("ListLoads returned %d records, want %d", len(list), len(wantOrder))
	}
	for i, id := range wantOrder {
		if list[i].LoadId != id {
			t.Fatalf("ListLoads[%d] = %s, want %s", i, list[i].LoadId, id)
		}
	}

	list, err = ledger.ListLoads(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("ListLoads limited: %v", err)
	}
	if len(list) != 2 || list[0].LoadId != "l4" {
		t.Fatalf("limited ListLoads = %v", list)
	}

	list, err = ledger.ListLoads(ctx, "nobody", 10)
	if err != nil {
		t.Fatalf("ListLoads unknown customer: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("unknown customer has %d records", len(list))
	}
	runKeyIsolation(t, ledger, monday)
	runLoadTimePrecision(t, ledger, monday)
}

// runKeyIsolation checks that ids containing separators never alias another pair.
func runKeyIsolation(t *testing.T, ledger LoadLedger, at time.Time) {
	t.Helper()
	ctx := context.Background()

	pairs := [][2]string{
		{"a", "b:c"},
		{"a:b", "c"},
		{"a", "b\x00c"},
		{"a\x00b", "c"},
	}
	for i, p := range pairs {
		if _, err := ledger.FindLoad(ctx, p[0], p[1]); !errors.Is(err, utils.ErrorRecordNotFound) {
			t.Fatalf("FindLoad(%q, %q) before insert: got %v, want ErrorRecordNotFound", p[0], p[1], err)
		}
		r := contractRecord(p[0], p[1], fmt.Sprintf("%d.00", i+1), at, true)
		if err := ledger.InsertLoad(ctx, r); err != nil {
			t.Fatalf("InsertLoad(%q, %q): %v", p[0], p[1], err)
		}
	}
	for i, p := range pairs {
		got, err := ledger.FindLoad(ctx, p[0], p[1])
		if err != nil {
			t.Fatalf("FindLoad(%q, %q): %v", p[0], p[1], err)
		}
		if got.CustomerId != p[0] || got.LoadId != p[1] {
			t.Fatalf("FindLoad(%q, %q) returned %q/%q", p[0], p[1], got.CustomerId, got.LoadId)
		}
		if want := decimal.NewFromInt(int64(i + 1)); !got.LoadAmount.Equal(want) {
			t.Fatalf("FindLoad(%q, %q) amount = %s, want %s", p[0], p[1], got.LoadAmount, want)
		}
	}
}

// runLoadTimePrecision checks that sub-millisecond time never moves a load across midnight.
func runLoadTimePrecision(t *testing.T, ledger LoadLedger, monday time.Time) {
	t.Helper()
	ctx := context.Background()

	lastInstant := monday.Add(24*time.Hour - 400*time.Microsecond)
	if err := ledger.InsertLoad(ctx, contractRecord("precise", "p1", "7.00", lastInstant, true)); err != nil {
		t.Fatalf("InsertLoad: %v", err)
	}
	got, err := ledger.FindLoad(ctx, "precise", "p1")
	if err != nil {
		t.Fatalf("FindLoad: %v", err)
	}
	if want := monday.Add(24*time.Hour - time.Millisecond); !got.LoadTime.Equal(want) {
		t.Fatalf("stored time = %v, want %v", got.LoadTime, want)
	}

	sum, err := ledger.SumAcceptedAmount(ctx, "precise", monday, monday.Add(24*time.Hour-time.Millisecond))
	if err != nil {
		t.Fatalf("SumAcceptedAmount: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("7.00")) {
		t.Fatalf("monday sum = %s, want 7.00", sum)
	}
}
