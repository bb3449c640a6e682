package utils

import "testing"

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{
		{ProductId: "p1", Qty: 2},
		{ProductId: "p2", Qty: 3},
	})
	b := FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{
		{ProductId: "p2", Qty: 3},
		{ProductId: "p1", Qty: 2},
	})
	if a != b {
		t.Fatalf("same payload in different line order must fingerprint equal: %s != %s", a, b)
	}
}

func TestFingerprint_DistinguishesPayloads(t *testing.T) {
	base := FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{{ProductId: "p1", Qty: 2}})

	cases := map[string]string{
		"different qty":    FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{{ProductId: "p1", Qty: 3}}),
		"different item":   FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{{ProductId: "p2", Qty: 2}}),
		"different worker": FingerprintInvoiceRequest("s1", "w2", []FingerprintItem{{ProductId: "p1", Qty: 2}}),
		"different store":  FingerprintInvoiceRequest("s2", "w1", []FingerprintItem{{ProductId: "p1", Qty: 2}}),
		"extra item": FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{
			{ProductId: "p1", Qty: 2}, {ProductId: "p2", Qty: 1},
		}),
	}
	for name, fp := range cases {
		if fp == base {
			t.Errorf("%s must produce a different fingerprint", name)
		}
	}
}

func TestFingerprint_StableHexDigest(t *testing.T) {
	fp := FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{{ProductId: "p1", Qty: 1}})
	if len(fp) != 64 {
		t.Fatalf("expected sha256 hex digest (64 chars), got %d", len(fp))
	}
	again := FingerprintInvoiceRequest("s1", "w1", []FingerprintItem{{ProductId: "p1", Qty: 1}})
	if fp != again {
		t.Fatalf("fingerprint must be deterministic")
	}
}
