package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID             string          `gorm:"size:36;primary_key" json:"id"` // uuid
	StoreId        string          `gorm:"size:36;index;not null;index:uniq_scan_code,unique,priority:1" json:"store_id" binding:"required"`
	Name           string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Description    string          `gorm:"type:text" json:"description"`
	Sku            string          `gorm:"size:100;not null" json:"sku" binding:"required"`
	ScanCode       string          `gorm:"size:100;not null;index:uniq_scan_code,unique,priority:2" json:"scan_code" binding:"required"`
	Price          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	BrandId        *string         `gorm:"size:36;index" json:"brand_id"`
	Brand          *Brand          `gorm:"foreignKey:BrandId" json:"brand,omitempty"`
	CategoryId     *string         `gorm:"size:36;index" json:"category_id"`
	Category       *Category       `gorm:"foreignKey:CategoryId" json:"category,omitempty"`
	ManufacturerId *string         `gorm:"size:36;index" json:"manufacturer_id"`
	Manufacturer   *Manufacturer   `gorm:"foreignKey:ManufacturerId" json:"manufacturer,omitempty"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (product *Product) BeforeCreate(tx *gorm.DB) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	return nil
}

type Brand struct {
	ID        string    `gorm:"size:36;primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (brand *Brand) BeforeCreate(tx *gorm.DB) error {
	if brand.ID == "" {
		brand.ID = uuid.NewString()
	}
	return nil
}

type Category struct {
	ID        string    `gorm:"size:36;primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (category *Category) BeforeCreate(tx *gorm.DB) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	return nil
}

type Manufacturer struct {
	ID        string    `gorm:"size:36;primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (manufacturer *Manufacturer) BeforeCreate(tx *gorm.DB) error {
	if manufacturer.ID == "" {
		manufacturer.ID = uuid.NewString()
	}
	return nil
}

/*
caches:
	Product:$productId
	ProductScan:$storeId:$scanCode -> productId
*/

func (product Product) RemoveInstanceRedis() error {
	return config.RemoveRedisKey(
		"Product:"+product.ID,
		"ProductScan:"+product.StoreId+":"+product.ScanCode,
	)
}

type NewProduct struct {
	StoreId        string          `json:"store_id" binding:"required"`
	Name           string          `json:"name" binding:"required"`
	Description    string          `json:"description"`
	Sku            string          `json:"sku" binding:"required"`
	ScanCode       string          `json:"scan_code" binding:"required"`
	Price          decimal.Decimal `json:"price"`
	BrandId        *string         `json:"brand_id"`
	CategoryId     *string         `json:"category_id"`
	ManufacturerId *string         `json:"manufacturer_id"`
}

func (input *NewProduct) validate(ctx context.Context) error {
	if strings.TrimSpace(input.ScanCode) == "" {
		return fmt.Errorf("%w: scan code is required", utils.ErrorInvalidRequest)
	}
	if input.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", utils.ErrorInvalidRequest)
	}
	if _, err := requireActiveStore(ctx, input.StoreId); err != nil {
		return err
	}
	if input.BrandId != nil {
		if err := utils.ValidateResourceId[Brand](ctx, *input.BrandId); err != nil {
			return fmt.Errorf("%w: brand not found", utils.ErrorRecordNotFound)
		}
	}
	if input.CategoryId != nil {
		if err := utils.ValidateResourceId[Category](ctx, *input.CategoryId); err != nil {
			return fmt.Errorf("%w: category not found", utils.ErrorRecordNotFound)
		}
	}
	if input.ManufacturerId != nil {
		if err := utils.ValidateResourceId[Manufacturer](ctx, *input.ManufacturerId); err != nil {
			return fmt.Errorf("%w: manufacturer not found", utils.ErrorRecordNotFound)
		}
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	product := Product{
		StoreId:        input.StoreId,
		Name:           input.Name,
		Description:    input.Description,
		Sku:            input.Sku,
		ScanCode:       strings.TrimSpace(input.ScanCode),
		Price:          input.Price,
		BrandId:        input.BrandId,
		CategoryId:     input.CategoryId,
		ManufacturerId: input.ManufacturerId,
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: scan code %q already registered in store", utils.ErrorConflict, product.ScanCode)
		}
		return nil, err
	}
	// every product starts with a zero-quantity inventory row so restock and
	// sale paths always have a record to lock
	inventory := InventoryRecord{
		StoreId:   product.StoreId,
		ProductId: product.ID,
		QtyOnHand: 0,
	}
	if err := tx.WithContext(ctx).Create(&inventory).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &product, nil
}

func GetProductById(ctx context.Context, id string) (*Product, error) {
	product, err := utils.RetrieveRedis[Product](id)
	if err != nil {
		return nil, err
	}
	if product != nil {
		return product, nil
	}

	product, err = utils.FetchSingleModel[Product](ctx, id, "Brand", "Category", "Manufacturer")
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis[Product](product, id); err != nil {
		return nil, err
	}
	return product, nil
}

// ScanResult is the POS lookup response: the product plus its live quantity.
type ScanResult struct {
	Product   *Product        `json:"product"`
	QtyOnHand int             `json:"qty_on_hand"`
	Price     decimal.Decimal `json:"price"`
}

// ScanProduct resolves a barcode scan to a product and its current stock.
// The scanCode -> productId mapping is cached; the quantity is always read
// from the DB since it changes with every checkout.
func ScanProduct(ctx context.Context, storeId string, scanCode string) (*ScanResult, error) {
	db := config.GetDB()

	scanCode = strings.TrimSpace(scanCode)
	if scanCode == "" {
		return nil, fmt.Errorf("%w: scan code is required", utils.ErrorInvalidRequest)
	}
	if _, err := requireActiveStore(ctx, storeId); err != nil {
		return nil, err
	}

	var product *Product
	cacheKey := "ProductScan:" + storeId + ":" + scanCode
	productId, exists, err := config.GetRedisValue(cacheKey)
	if err != nil {
		return nil, err
	}
	if exists {
		product, err = GetProductById(ctx, productId)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
	}
	if product == nil {
		var found Product
		err = db.WithContext(ctx).
			Preload("Brand").Preload("Category").Preload("Manufacturer").
			Where("store_id = ? AND scan_code = ?", storeId, scanCode).
			Take(&found).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: no product with scan code %q", utils.ErrorRecordNotFound, scanCode)
			}
			return nil, err
		}
		product = &found
		if err := config.SetRedisValue(cacheKey, product.ID, utils.GetCacheLifespan()); err != nil {
			return nil, err
		}
	}

	if product.IsActive != nil && !*product.IsActive {
		return nil, fmt.Errorf("%w: product is inactive", utils.ErrorRecordNotFound)
	}

	inventory, err := GetInventoryRecord(ctx, storeId, product.ID)
	if err != nil {
		return nil, err
	}

	return &ScanResult{
		Product:   product,
		QtyOnHand: inventory.QtyOnHand,
		Price:     product.Price,
	}, nil
}

func GetStoreProducts(ctx context.Context, storeId string) ([]*Product, error) {
	db := config.GetDB()
	var results []*Product
	if err := db.WithContext(ctx).
		Preload("Brand").Preload("Category").Preload("Manufacturer").
		Where("store_id = ?", storeId).
		Order("name ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
