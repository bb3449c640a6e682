package models

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the intended checkout semantics:
// - stock never goes negative under concurrency
// - a checkout decrements all lines or none
// - locks taken in ascending product id order cannot deadlock
// - an idempotency key commits at most one invoice, replays return the winner
//
// Full DB integration tests should be added in an environment that can run MySQL + Redis.

type fakeLedger struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	qty      map[string]int
	registry map[string]fakeRegistryEntry
	invoices int
}

type fakeRegistryEntry struct {
	fingerprint string
	invoiceId   int
}

func newFakeLedger(stock map[string]int) *fakeLedger {
	l := &fakeLedger{
		locks:    map[string]*sync.Mutex{},
		qty:      map[string]int{},
		registry: map[string]fakeRegistryEntry{},
	}
	for id, q := range stock {
		l.locks[id] = &sync.Mutex{}
		l.qty[id] = q
	}
	return l
}

type fakeItem struct {
	productId string
	qty       int
}

// checkout mirrors createInvoiceTx: sort ids ascending, lock in order,
// verify every line, then decrement every line, then claim the key.
func (l *fakeLedger) checkout(idemKey string, fingerprint string, items []fakeItem) (int, error) {
	sorted := make([]fakeItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].productId < sorted[j].productId })

	for _, item := range sorted {
		l.locks[item.productId].Lock()
	}
	defer func() {
		for _, item := range sorted {
			l.locks[item.productId].Unlock()
		}
	}()

	if idemKey != "" {
		l.mu.Lock()
		entry, exists := l.registry[idemKey]
		l.mu.Unlock()
		if exists {
			if entry.fingerprint != fingerprint {
				return 0, utils.ErrorIdempotencyConflict
			}
			return entry.invoiceId, nil
		}
	}

	for _, item := range sorted {
		if l.qty[item.productId] < item.qty {
			return 0, utils.ErrorInsufficientStock
		}
	}
	for _, item := range sorted {
		l.qty[item.productId] -= item.qty
	}

	l.mu.Lock()
	l.invoices++
	invoiceId := l.invoices
	if idemKey != "" {
		l.registry[idemKey] = fakeRegistryEntry{fingerprint: fingerprint, invoiceId: invoiceId}
	}
	l.mu.Unlock()
	return invoiceId, nil
}

func TestCheckout_StockNeverNegative(t *testing.T) {
	ledger := newFakeLedger(map[string]int{"p1": 100})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, shortages := 0, 0

	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.checkout("", "", []fakeItem{{productId: "p1", qty: 1}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, utils.ErrorInsufficientStock) {
				shortages++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 100 {
		t.Fatalf("expected exactly 100 successful checkouts, got %d", succeeded)
	}
	if shortages != 50 {
		t.Fatalf("expected exactly 50 insufficient-stock failures, got %d", shortages)
	}
	if ledger.qty["p1"] != 0 {
		t.Fatalf("expected final qty 0, got %d", ledger.qty["p1"])
	}
}

func TestCheckout_AllOrNothing(t *testing.T) {
	ledger := newFakeLedger(map[string]int{"p1": 10, "p2": 0})

	_, err := ledger.checkout("", "", []fakeItem{
		{productId: "p1", qty: 5},
		{productId: "p2", qty: 1},
	})
	if !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if ledger.qty["p1"] != 10 {
		t.Fatalf("partial decrement: p1 went from 10 to %d on a failed checkout", ledger.qty["p1"])
	}
}

func TestCheckout_OpposingItemOrders_NoDeadlock(t *testing.T) {
	ledger := newFakeLedger(map[string]int{"a": 10000, "b": 10000})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// submitted in opposite orders, locked in the same order
			ledger.checkout("", "", []fakeItem{{productId: "a", qty: 1}, {productId: "b", qty: 1}})
			ledger.checkout("", "", []fakeItem{{productId: "b", qty: 1}, {productId: "a", qty: 1}})
		}()
	}
	wg.Wait()

	if ledger.qty["a"] != 10000-200 || ledger.qty["b"] != 10000-200 {
		t.Fatalf("expected both at 9800, got a=%d b=%d", ledger.qty["a"], ledger.qty["b"])
	}
}

func TestCheckout_IdempotentReplay_CommitsOnce(t *testing.T) {
	for run := 0; run < 50; run++ {
		ledger := newFakeLedger(map[string]int{"p1": 100})

		items := []fakeItem{{productId: "p1", qty: 3}}
		fp := utils.FingerprintInvoiceRequest("s1", "w1", []utils.FingerprintItem{{ProductId: "p1", Qty: 3}})

		var wg sync.WaitGroup
		ids := make([]int, 25)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := ledger.checkout("key-1", fp, items)
				if err != nil {
					t.Errorf("replay failed: %v", err)
					return
				}
				ids[i] = id
			}(i)
		}
		wg.Wait()

		if ledger.invoices != 1 {
			t.Fatalf("run=%d expected exactly 1 invoice, got %d", run, ledger.invoices)
		}
		if ledger.qty["p1"] != 97 {
			t.Fatalf("run=%d expected stock decremented once (97), got %d", run, ledger.qty["p1"])
		}
		for i, id := range ids {
			if id != ids[0] {
				t.Fatalf("run=%d caller %d got invoice %d, expected %d", run, i, id, ids[0])
			}
		}
	}
}

func TestCheckout_KeyReuseWithDifferentPayload_IsConflict(t *testing.T) {
	ledger := newFakeLedger(map[string]int{"p1": 100, "p2": 100})

	fp1 := utils.FingerprintInvoiceRequest("s1", "w1", []utils.FingerprintItem{{ProductId: "p1", Qty: 1}})
	fp2 := utils.FingerprintInvoiceRequest("s1", "w1", []utils.FingerprintItem{{ProductId: "p2", Qty: 2}})

	if _, err := ledger.checkout("key-1", fp1, []fakeItem{{productId: "p1", qty: 1}}); err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	_, err := ledger.checkout("key-1", fp2, []fakeItem{{productId: "p2", qty: 2}})
	if !errors.Is(err, utils.ErrorIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
	if ledger.qty["p2"] != 100 {
		t.Fatalf("conflicting request must not touch stock, p2=%d", ledger.qty["p2"])
	}
}

func TestCheckout_KeyReuseAcrossStores_IsConflict(t *testing.T) {
	ledger := newFakeLedger(map[string]int{"p1": 100})

	// keys are unique across all stores, so the same key submitted from a
	// second store carries a different fingerprint and must conflict
	fp1 := utils.FingerprintInvoiceRequest("s1", "w1", []utils.FingerprintItem{{ProductId: "p1", Qty: 1}})
	fp2 := utils.FingerprintInvoiceRequest("s2", "w2", []utils.FingerprintItem{{ProductId: "p1", Qty: 1}})

	if _, err := ledger.checkout("key-1", fp1, []fakeItem{{productId: "p1", qty: 1}}); err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	_, err := ledger.checkout("key-1", fp2, []fakeItem{{productId: "p1", qty: 1}})
	if !errors.Is(err, utils.ErrorIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
	if ledger.invoices != 1 {
		t.Fatalf("expected a single committed invoice, got %d", ledger.invoices)
	}
}

func TestInvoiceTotals_DecimalExact(t *testing.T) {
	price1 := decimal.RequireFromString("35")
	price2 := decimal.RequireFromString("20")

	line1 := price1.Mul(decimal.NewFromInt(2))
	line2 := price2.Mul(decimal.NewFromInt(3))
	total := line1.Add(line2)

	if !total.Equal(decimal.RequireFromString("130")) {
		t.Fatalf("expected total 130, got %s", total)
	}

	// fractional prices stay exact, no float drift
	price := decimal.RequireFromString("0.10")
	sum := decimal.Zero
	for i := 0; i < 3; i++ {
		sum = sum.Add(price)
	}
	if !sum.Equal(decimal.RequireFromString("0.30")) {
		t.Fatalf("expected 0.30, got %s", sum)
	}
}
