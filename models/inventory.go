package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryRecord holds the live on-hand quantity for one product in one
// store. Quantities are mutated only under a row lock inside a transaction
// and must never go below zero.
type InventoryRecord struct {
	ID        int       `gorm:"primary_key" json:"id"`
	StoreId   string    `gorm:"size:36;not null;index:uniq_store_product,unique,priority:1" json:"store_id"`
	ProductId string    `gorm:"size:36;not null;index:uniq_store_product,unique,priority:2" json:"product_id"`
	QtyOnHand int       `gorm:"not null;default:0" json:"qty_on_hand"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// InventoryMovement is the append-only stock ledger. Every change to an
// InventoryRecord writes one movement row in the same transaction, so the
// ledger always sums to the live quantity.
type InventoryMovement struct {
	ID            string       `gorm:"size:36;primary_key" json:"id"` // uuid
	StoreId       string       `gorm:"size:36;not null;index:idx_move_store_product,priority:1" json:"store_id"`
	ProductId     string       `gorm:"size:36;not null;index:idx_move_store_product,priority:2" json:"product_id"`
	QtyDelta      int          `gorm:"not null" json:"qty_delta"`
	MovementType  MovementType `gorm:"type:enum('S','R','A');not null" json:"movement_type"`
	ReferenceId   string       `gorm:"size:36;index" json:"reference_id"` // invoice id for sales
	WorkerId      string       `gorm:"size:36;index" json:"worker_id"`
	Note          string       `gorm:"size:255" json:"note"`
	CorrelationId string       `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time    `gorm:"autoCreateTime;index:idx_move_store_product,priority:3" json:"created_at"`
}

// lockInventoryRecords acquires FOR UPDATE row locks for the given products
// in ascending product id order. Every writer locks in the same order, which
// rules out lock-order deadlocks between concurrent checkouts.
func lockInventoryRecords(tx *gorm.DB, storeId string, productIds []string) (map[string]*InventoryRecord, error) {
	sorted := make([]string, len(productIds))
	copy(sorted, productIds)
	sort.Strings(sorted)

	var records []InventoryRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND product_id IN (?)", storeId, sorted).
		Order("product_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	byProduct := make(map[string]*InventoryRecord, len(records))
	for i := range records {
		byProduct[records[i].ProductId] = &records[i]
	}
	return byProduct, nil
}

// decrementInventory applies a guarded decrement. The WHERE clause re-checks
// the quantity so even a bug in the caller's stock check cannot drive the
// row negative; zero rows affected means insufficient stock.
func decrementInventory(tx *gorm.DB, recordId int, qty int) error {
	result := tx.Exec(
		"UPDATE inventory_records SET qty_on_hand = qty_on_hand - ? WHERE id = ? AND qty_on_hand >= ?",
		qty, recordId, qty,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorInsufficientStock
	}
	return nil
}

// appendMovement writes one ledger row inside the caller's transaction.
func appendMovement(ctx context.Context, tx *gorm.DB, movement InventoryMovement) error {
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.CorrelationId == "" {
		movement.CorrelationId = correlationIdFromContextOrNew(ctx)
	}
	return tx.Create(&movement).Error
}

func GetInventoryRecord(ctx context.Context, storeId string, productId string) (*InventoryRecord, error) {
	db := config.GetDB()
	var record InventoryRecord
	err := db.WithContext(ctx).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no inventory for product %s", utils.ErrorRecordNotFound, productId)
		}
		return nil, err
	}
	return &record, nil
}

type InventoryLine struct {
	ProductId   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Sku         string `json:"sku"`
	ScanCode    string `json:"scan_code"`
	QtyOnHand   int    `json:"qty_on_hand"`
}

func GetInventoryByStore(ctx context.Context, storeId string) ([]*InventoryLine, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, storeId); err != nil {
		return nil, err
	}

	var results []*InventoryLine
	if err := db.WithContext(ctx).
		Table("inventory_records").
		Select("inventory_records.product_id, products.name AS product_name, products.sku, products.scan_code, inventory_records.qty_on_hand").
		Joins("JOIN products ON products.id = inventory_records.product_id").
		Where("inventory_records.store_id = ?", storeId).
		Order("products.name ASC").
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type NewInventoryAdjustment struct {
	StoreId   string `json:"store_id" binding:"required"`
	ProductId string `json:"product_id" binding:"required"`
	QtyDelta  int    `json:"qty_delta" binding:"required"`
	Note      string `json:"note"`
}

// AdjustInventory applies a manual restock or correction. Positive deltas
// are restocks, negative deltas are write-offs; a write-off below zero is
// rejected by the guarded decrement.
func AdjustInventory(ctx context.Context, input *NewInventoryAdjustment) (*InventoryRecord, error) {
	db := config.GetDB()

	if input.QtyDelta == 0 {
		return nil, fmt.Errorf("%w: qty_delta must not be zero", utils.ErrorInvalidRequest)
	}
	if _, err := requireActiveStore(ctx, input.StoreId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return nil, fmt.Errorf("%w: product %s", utils.ErrorRecordNotFound, input.ProductId)
	}
	workerId, _ := utils.GetCallerIdFromContext(ctx)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnavailable, tx.Error)
	}

	locked, err := lockInventoryRecords(tx, input.StoreId, []string{input.ProductId})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	record, ok := locked[input.ProductId]
	if !ok {
		tx.Rollback()
		return nil, fmt.Errorf("%w: no inventory for product %s", utils.ErrorRecordNotFound, input.ProductId)
	}

	movementType := MovementTypeRestock
	if input.QtyDelta > 0 {
		if err := tx.Exec(
			"UPDATE inventory_records SET qty_on_hand = qty_on_hand + ? WHERE id = ?",
			input.QtyDelta, record.ID,
		).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		movementType = MovementTypeAdjustment
		if err := decrementInventory(tx, record.ID, -input.QtyDelta); err != nil {
			tx.Rollback()
			if errors.Is(err, utils.ErrorInsufficientStock) {
				return nil, fmt.Errorf("%w: cannot write off %d of product %s, only %d on hand",
					utils.ErrorInsufficientStock, -input.QtyDelta, input.ProductId, record.QtyOnHand)
			}
			return nil, err
		}
	}

	if err := appendMovement(ctx, tx, InventoryMovement{
		StoreId:      input.StoreId,
		ProductId:    input.ProductId,
		QtyDelta:     input.QtyDelta,
		MovementType: movementType,
		WorkerId:     workerId,
		Note:         input.Note,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}

	record.QtyOnHand += input.QtyDelta
	snapshot := InventorySnapshot{ProductId: input.ProductId, QtyOnHand: record.QtyOnHand}
	if err := PublishEvent(ctx, tx, EventInventoryUpdated, input.StoreId, input.ProductId, snapshot); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return record, nil
}

// InventorySnapshot is the per-product payload of inventory.updated events.
type InventorySnapshot struct {
	ProductId string `json:"product_id"`
	QtyOnHand int    `json:"qty_on_hand"`
}

type MovementFilter struct {
	StoreId   string
	ProductId string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func GetInventoryMovements(ctx context.Context, filter MovementFilter) ([]*InventoryMovement, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, filter.StoreId); err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Where("store_id = ?", filter.StoreId)
	if filter.ProductId != "" {
		query = query.Where("product_id = ?", filter.ProductId)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}
	limit := clampLimit(filter.Limit, 100, 500)

	var results []*InventoryMovement
	if err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
