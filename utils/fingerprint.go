package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// FingerprintItem is one (product, qty) pair of an invoice-creation request.
type FingerprintItem struct {
	ProductId string
	Qty       int
}

// FingerprintInvoiceRequest derives a stable digest over the semantic content
// of a createInvoice request. Items are sorted by product id so the same
// payload submitted in a different line order produces the same fingerprint.
func FingerprintInvoiceRequest(storeId string, workerId string, items []FingerprintItem) string {
	sorted := make([]FingerprintItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductId < sorted[j].ProductId })

	var b strings.Builder
	b.WriteString(storeId)
	b.WriteString("|")
	b.WriteString(workerId)
	for _, item := range sorted {
		b.WriteString("|")
		b.WriteString(item.ProductId)
		b.WriteString(":")
		fmt.Fprintf(&b, "%d", item.Qty)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
