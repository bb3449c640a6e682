package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice is immutable once committed: no update or delete path exists.
// Corrections are made by issuing a new document, never by editing a sale.
type Invoice struct {
	ID               string          `gorm:"size:36;primary_key" json:"id"` // uuid
	InvoiceNumber    string          `gorm:"size:50;not null;unique" json:"invoice_number"`
	StoreId          string          `gorm:"size:36;not null;index:idx_invoice_store_date,priority:1" json:"store_id"`
	WorkerId         string          `gorm:"size:36;not null;index" json:"worker_id"`
	ClientInvoiceRef *string         `gorm:"size:100" json:"client_invoice_ref"`
	Status           InvoiceStatus   `gorm:"type:enum('C','V');default:C" json:"status"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	PdfUrl           *string         `gorm:"size:500" json:"pdf_url"`
	Lines            []InvoiceLine   `gorm:"foreignKey:InvoiceId" json:"lines"`
	CorrelationId    string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index:idx_invoice_store_date,priority:2" json:"created_at"`
}

// InvoiceLine snapshots the product at time of sale. Name, sku and price are
// copied so later catalogue edits never change what a past invoice says.
type InvoiceLine struct {
	ID        string          `gorm:"size:36;primary_key" json:"id"` // uuid
	InvoiceId string          `gorm:"size:36;not null;index" json:"invoice_id"`
	ProductId string          `gorm:"size:36;not null;index" json:"product_id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Sku       string          `gorm:"size:100;not null" json:"sku"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Qty       int             `gorm:"not null" json:"qty"`
	LineTotal decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewInvoiceItem struct {
	ProductId string `json:"product_id" binding:"required"`
	Qty       int    `json:"qty" binding:"required"`
}

type NewInvoice struct {
	StoreId          string           `json:"store_id" binding:"required"`
	WorkerId         string           `json:"worker_id" binding:"required"`
	Items            []NewInvoiceItem `json:"items" binding:"required"`
	ClientInvoiceRef *string          `json:"client_invoice_ref"`
	IdempotencyKey   *string          `json:"idempotency_key"`
}

func (input *NewInvoice) validate(ctx context.Context) error {
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", utils.ErrorInvalidRequest)
	}
	seen := make(map[string]bool, len(input.Items))
	for _, item := range input.Items {
		if item.ProductId == "" {
			return fmt.Errorf("%w: product_id is required on every item", utils.ErrorInvalidRequest)
		}
		if item.Qty < 1 {
			return fmt.Errorf("%w: qty must be at least 1 for product %s", utils.ErrorInvalidRequest, item.ProductId)
		}
		if seen[item.ProductId] {
			return fmt.Errorf("%w: duplicate product %s, merge quantities into one line", utils.ErrorInvalidRequest, item.ProductId)
		}
		seen[item.ProductId] = true
	}
	if _, err := requireActiveStore(ctx, input.StoreId); err != nil {
		return err
	}
	if _, err := requireWorker(ctx, input.StoreId, input.WorkerId); err != nil {
		return err
	}
	return nil
}

func (input *NewInvoice) fingerprint() string {
	items := make([]utils.FingerprintItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, utils.FingerprintItem{ProductId: item.ProductId, Qty: item.Qty})
	}
	return utils.FingerprintInvoiceRequest(input.StoreId, input.WorkerId, items)
}

func maxTxAttempts() int {
	attempts, err := strconv.Atoi(os.Getenv("INVOICE_TX_MAX_ATTEMPTS"))
	if err != nil || attempts < 1 {
		attempts = 3
	}
	return attempts
}

func newInvoiceNumber(now time.Time) string {
	return "INV-" + now.Format("20060102") + "-" + uuid.NewString()[:8]
}

// CreateInvoice is the checkout engine. Inside one DB transaction it locks
// the inventory rows in ascending product id order, verifies and decrements
// stock, writes the immutable invoice with its lines and ledger movements,
// claims the idempotency key, and queues the post-commit events through the
// outbox. Either everything commits or nothing does.
//
// Deadlocks and lock wait timeouts are retried a bounded number of times;
// an idempotency-key race is resolved by returning the committed winner.
func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	fingerprint := input.fingerprint()

	// fast path: a retry of an already-committed request returns the
	// original invoice without touching inventory
	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		invoice, err := resolveIdempotentReplay(ctx, *input.IdempotencyKey, fingerprint)
		if err != nil {
			return nil, err
		}
		if invoice != nil {
			return invoice, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts(); attempt++ {
		invoice, err := createInvoiceTx(ctx, input, fingerprint)
		if err == nil {
			return invoice, nil
		}
		if isDuplicateKeyErr(err) && input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
			// another request with the same key committed first
			winner, resolveErr := resolveIdempotentReplay(ctx, *input.IdempotencyKey, fingerprint)
			if resolveErr != nil {
				return nil, resolveErr
			}
			if winner != nil {
				return winner, nil
			}
			return nil, fmt.Errorf("%w: idempotency record vanished after duplicate key", utils.ErrorConflict)
		}
		if !isRetryableTxErr(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: transaction kept deadlocking: %v", utils.ErrorConflict, lastErr)
}

// resolveIdempotentReplay looks up the idempotency registry. It returns the
// committed invoice for a true replay, nil when the key is unclaimed, and
// ErrorIdempotencyConflict when the key was used with a different payload.
func resolveIdempotentReplay(ctx context.Context, idemKey string, fingerprint string) (*Invoice, error) {
	db := config.GetDB()

	var record IdempotencyRecord
	err := db.WithContext(ctx).
		Where("idem_key = ?", idemKey).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnavailable, err)
	}
	if record.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: key %q", utils.ErrorIdempotencyConflict, idemKey)
	}
	return GetInvoice(ctx, record.InvoiceId)
}

func createInvoiceTx(ctx context.Context, input *NewInvoice, fingerprint string) (*Invoice, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnavailable, tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	productIds := make([]string, 0, len(input.Items))
	for _, item := range input.Items {
		productIds = append(productIds, item.ProductId)
	}

	locked, err := lockInventoryRecords(tx, input.StoreId, productIds)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// verify stock for every line before touching anything
	for _, item := range input.Items {
		record, ok := locked[item.ProductId]
		if !ok {
			tx.Rollback()
			return nil, fmt.Errorf("%w: product %s not stocked in store", utils.ErrorRecordNotFound, item.ProductId)
		}
		if record.QtyOnHand < item.Qty {
			tx.Rollback()
			return nil, fmt.Errorf("%w: product %s has %d on hand, %d requested",
				utils.ErrorInsufficientStock, item.ProductId, record.QtyOnHand, item.Qty)
		}
	}

	// snapshot products inside the transaction so prices are consistent
	var products []Product
	if err := tx.Where("store_id = ? AND id IN (?)", input.StoreId, productIds).
		Find(&products).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	productById := make(map[string]*Product, len(products))
	for i := range products {
		productById[products[i].ID] = &products[i]
	}

	now := time.Now().UTC()
	invoice := Invoice{
		ID:               uuid.NewString(),
		InvoiceNumber:    newInvoiceNumber(now),
		StoreId:          input.StoreId,
		WorkerId:         input.WorkerId,
		ClientInvoiceRef: input.ClientInvoiceRef,
		Status:           InvoiceStatusCompleted,
		CorrelationId:    correlationIdFromContextOrNew(ctx),
	}

	total := decimal.Zero
	for _, item := range input.Items {
		product, ok := productById[item.ProductId]
		if !ok {
			tx.Rollback()
			return nil, fmt.Errorf("%w: product %s", utils.ErrorRecordNotFound, item.ProductId)
		}
		if product.IsActive != nil && !*product.IsActive {
			tx.Rollback()
			return nil, fmt.Errorf("%w: product %s is inactive", utils.ErrorInvalidRequest, item.ProductId)
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Qty)))
		invoice.Lines = append(invoice.Lines, InvoiceLine{
			ID:        uuid.NewString(),
			InvoiceId: invoice.ID,
			ProductId: product.ID,
			Name:      product.Name,
			Sku:       product.Sku,
			UnitPrice: product.Price,
			Qty:       item.Qty,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	invoice.TotalAmount = total

	if err := tx.Create(&invoice).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnavailable, err)
	}

	snapshots := make([]InventorySnapshot, 0, len(input.Items))
	for _, item := range input.Items {
		record := locked[item.ProductId]
		if err := decrementInventory(tx, record.ID, item.Qty); err != nil {
			tx.Rollback()
			if errors.Is(err, utils.ErrorInsufficientStock) {
				return nil, fmt.Errorf("%w: product %s", utils.ErrorInsufficientStock, item.ProductId)
			}
			return nil, err
		}
		if err := appendMovement(ctx, tx, InventoryMovement{
			StoreId:       input.StoreId,
			ProductId:     item.ProductId,
			QtyDelta:      -item.Qty,
			MovementType:  MovementTypeSale,
			ReferenceId:   invoice.ID,
			WorkerId:      input.WorkerId,
			CorrelationId: invoice.CorrelationId,
		}); err != nil {
			tx.Rollback()
			return nil, err
		}
		snapshots = append(snapshots, InventorySnapshot{
			ProductId: item.ProductId,
			QtyOnHand: record.QtyOnHand - item.Qty,
		})
	}

	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		record := IdempotencyRecord{
			StoreId:     input.StoreId,
			IdemKey:     *input.IdempotencyKey,
			Fingerprint: fingerprint,
			InvoiceId:   invoice.ID,
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := PublishEvent(ctx, tx, EventInvoiceCreated, invoice.StoreId, invoice.ID, &invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, snapshot := range snapshots {
		if err := PublishEvent(ctx, tx, EventInventoryUpdated, invoice.StoreId, invoice.ID, snapshot); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := PublishEvent(ctx, tx, EventInvoicePdfRequested, invoice.StoreId, invoice.ID, PdfRequestPayload{InvoiceId: invoice.ID}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// PdfRequestPayload is the body of invoice.pdf_requested events.
type PdfRequestPayload struct {
	InvoiceId string `json:"invoice_id"`
}

func GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	invoice, err := utils.FetchSingleModel[Invoice](ctx, id, "Lines")
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, fmt.Errorf("%w: invoice %s", utils.ErrorRecordNotFound, id)
		}
		return nil, err
	}
	return invoice, nil
}

type InvoiceFilter struct {
	StoreId  string
	WorkerId string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func GetInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, filter.StoreId); err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Preload("Lines").Where("store_id = ?", filter.StoreId)
	if filter.WorkerId != "" {
		query = query.Where("worker_id = ?", filter.WorkerId)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}
	limit := clampLimit(filter.Limit, 50, 200)

	var results []*Invoice
	if err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SetInvoicePdfUrl records the generated document URL after the PDF worker
// uploads it. This is the only field on an invoice that changes post-commit.
func SetInvoicePdfUrl(tx *gorm.DB, invoiceId string, pdfUrl string) error {
	return tx.Model(&Invoice{}).
		Where("id = ?", invoiceId).
		Update("pdf_url", pdfUrl).Error
}
