package models

type UserRole string

const (
	UserRoleAdmin     UserRole = "A"
	UserRoleSales     UserRole = "S"
	UserRoleInventory UserRole = "I"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleSales, UserRoleInventory:
		return true
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceStatusCompleted InvoiceStatus = "C"
	InvoiceStatusVoided    InvoiceStatus = "V"
)

type MovementType string

const (
	MovementTypeSale       MovementType = "S"
	MovementTypeRestock    MovementType = "R"
	MovementTypeAdjustment MovementType = "A"
)

func (t MovementType) IsValid() bool {
	switch t {
	case MovementTypeSale, MovementTypeRestock, MovementTypeAdjustment:
		return true
	}
	return false
}

// Event names carried on outbox records and Pub/Sub message attributes.
const (
	EventInvoiceCreated      = "invoice.created"
	EventInventoryUpdated    = "inventory.updated"
	EventInvoicePdfRequested = "invoice.pdf_requested"
	EventInvoicePdfReady     = "invoice.pdf_ready"
)
