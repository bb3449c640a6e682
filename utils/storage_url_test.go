package utils

import "testing"

func TestBuildObjectAccessURL(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_URL", "storage.googleapis.com")
	t.Setenv("GCS_BUCKET", "pos-artifacts")

	got := BuildObjectAccessURL("invoices/s1/abc.pdf")
	want := "https://storage.googleapis.com/pos-artifacts/invoices/s1/abc.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestBuildObjectAccessURL_Template(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/{objectKey}")

	got := BuildObjectAccessURL("invoices/s1/abc.pdf")
	if got != "https://cdn.example.com/invoices/s1/abc.pdf" {
		t.Fatalf("template substitution failed: %q", got)
	}
}

func TestBuildObjectAccessURL_QueryTemplate(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/get?key={objectKey}")

	got := BuildObjectAccessURL("invoices/s1/abc.pdf")
	if got != "https://cdn.example.com/get?key=invoices%2Fs1%2Fabc.pdf" {
		t.Fatalf("query escaping failed: %q", got)
	}
}
