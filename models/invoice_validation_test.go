package models

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// The item checks run before any store or worker lookup, so these cases
// never touch the database.
func TestNewInvoiceValidateRejectsBadItems(t *testing.T) {
	cases := []struct {
		name  string
		items []NewInvoiceItem
	}{
		{"no items", nil},
		{"zero qty", []NewInvoiceItem{{ProductId: "p1", Qty: 0}}},
		{"negative qty", []NewInvoiceItem{{ProductId: "p1", Qty: -3}}},
		{"missing product id", []NewInvoiceItem{{ProductId: "", Qty: 1}}},
		{"duplicate product lines", []NewInvoiceItem{
			{ProductId: "p1", Qty: 1},
			{ProductId: "p1", Qty: 2},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := NewInvoice{StoreId: "s1", WorkerId: "w1", Items: tc.items}
			err := input.validate(context.Background())
			if !errors.Is(err, utils.ErrorInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		name     string
		limit    int
		expected int
	}{
		{"zero falls back to default", 0, 50},
		{"negative falls back to default", -1, 50},
		{"in range passes through", 120, 120},
		{"at cap passes through", 200, 200},
		{"above cap clamps to cap", 201, 200},
		{"far above cap clamps to cap", 5000, 200},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clampLimit(tc.limit, 50, 200); got != tc.expected {
				t.Fatalf("clampLimit(%d) = %d, expected %d", tc.limit, got, tc.expected)
			}
		})
	}
}
