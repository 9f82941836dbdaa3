package pdf

import (
	"bytes"
	"context"
	"testing"
)

func TestRenderContractInvoice(t *testing.T) {
	doc, err := New().RenderContractInvoice(context.Background(), ContractInvoice{
		IssuerName:    "Green PM",
		InvoiceNumber: "GPM-202603-acme",
		IssueDate:     "2026-03-01",
		ServicePeriod: "2026-03-01 - 2026-03-31",
		BillToName:    "Acme",
		Items: []InvoiceItem{
			{Description: "Professional plan", Qty: 40, UnitPrice: "USD 3.00", Amount: "USD 120.00"},
		},
		Subtotal:  "USD 120.00",
		AmountDue: "USD 120.00",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected a PDF document, got %q", doc[:8])
	}
}

func TestRenderContractInvoiceRequiresItems(t *testing.T) {
	if _, err := New().RenderContractInvoice(context.Background(), ContractInvoice{}); err != ErrEmptyInvoice {
		t.Fatalf("expected ErrEmptyInvoice, got %v", err)
	}
}

func TestFormatMinor(t *testing.T) {
	cases := map[int64]string{
		12000: "USD 120.00",
		5:     "USD 0.05",
		-250:  "USD -2.50",
	}
	for in, want := range cases {
		if got := FormatMinor("USD", in); got != want {
			t.Fatalf("FormatMinor(%d) = %q, want %q", in, got, want)
		}
	}
}
