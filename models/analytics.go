package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// FilterOptions feeds the admin dashboard dropdowns.
type FilterOptions struct {
	Stores        []*Store        `json:"stores"`
	Regions       []string        `json:"regions"`
	Cities        []string        `json:"cities"`
	Brands        []*Brand        `json:"brands"`
	Categories    []*Category     `json:"categories"`
	Manufacturers []*Manufacturer `json:"manufacturers"`
	Workers       []*User         `json:"workers"`
}

func GetFilterOptions(ctx context.Context, storeId string) (*FilterOptions, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, storeId); err != nil {
		return nil, err
	}

	var options FilterOptions
	if err := db.WithContext(ctx).Order("name ASC").Find(&options.Stores).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&Store{}).Distinct().
		Where("region <> ''").Order("region ASC").
		Pluck("region", &options.Regions).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&Store{}).Distinct().
		Where("city <> ''").Order("city ASC").
		Pluck("city", &options.Cities).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Order("name ASC").Find(&options.Brands).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Order("name ASC").Find(&options.Categories).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Order("name ASC").Find(&options.Manufacturers).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("store_id = ?", storeId).
		Order("name ASC").Find(&options.Workers).Error; err != nil {
		return nil, err
	}
	for _, worker := range options.Workers {
		worker.PrepareGive()
	}
	return &options, nil
}

type SalesSummary struct {
	InvoiceCount int             `json:"invoice_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	UnitsSold    int             `json:"units_sold"`
}

func GetSalesSummary(ctx context.Context, storeId string, from time.Time, to time.Time) (*SalesSummary, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, storeId); err != nil {
		return nil, err
	}

	sql := `
SELECT
    COUNT(DISTINCT invoices.id) AS invoice_count,
    COALESCE(SUM(invoice_lines.line_total), 0) AS total_revenue,
    COALESCE(SUM(invoice_lines.qty), 0) AS units_sold
FROM
    invoices
    JOIN invoice_lines ON invoice_lines.invoice_id = invoices.id
WHERE
    invoices.store_id = ?
    AND invoices.status = 'C'
    AND invoices.created_at >= ?
    AND invoices.created_at < ?;
`
	var summary SalesSummary
	if err := db.WithContext(ctx).Raw(sql, storeId, from, to).Scan(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

type SalesTrendPoint struct {
	Day          string          `json:"day"`
	InvoiceCount int             `json:"invoice_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

func GetSalesTrend(ctx context.Context, storeId string, from time.Time, to time.Time) ([]*SalesTrendPoint, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, storeId); err != nil {
		return nil, err
	}

	sql := `
SELECT
    DATE_FORMAT(created_at, '%Y-%m-%d') AS day,
    COUNT(id) AS invoice_count,
    COALESCE(SUM(total_amount), 0) AS total_revenue
FROM
    invoices
WHERE
    store_id = ?
    AND status = 'C'
    AND created_at >= ?
    AND created_at < ?
GROUP BY
    DATE_FORMAT(created_at, '%Y-%m-%d')
ORDER BY
    day ASC;
`
	var points []*SalesTrendPoint
	if err := db.WithContext(ctx).Raw(sql, storeId, from, to).Scan(&points).Error; err != nil {
		return nil, err
	}
	return points, nil
}

type TopSku struct {
	ProductId    string          `json:"product_id"`
	Name         string          `json:"name"`
	Sku          string          `json:"sku"`
	UnitsSold    int             `json:"units_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

func GetTopSkus(ctx context.Context, storeId string, from time.Time, to time.Time, limit int) ([]*TopSku, error) {
	db := config.GetDB()

	if _, err := requireActiveStore(ctx, storeId); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	sql := `
SELECT
    invoice_lines.product_id,
    invoice_lines.name,
    invoice_lines.sku,
    SUM(invoice_lines.qty) AS units_sold,
    SUM(invoice_lines.line_total) AS total_revenue
FROM
    invoice_lines
    JOIN invoices ON invoices.id = invoice_lines.invoice_id
WHERE
    invoices.store_id = ?
    AND invoices.status = 'C'
    AND invoices.created_at >= ?
    AND invoices.created_at < ?
GROUP BY
    invoice_lines.product_id, invoice_lines.name, invoice_lines.sku
ORDER BY
    units_sold DESC
LIMIT ?;
`
	var results []*TopSku
	if err := db.WithContext(ctx).Raw(sql, storeId, from, to, limit).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ExportMovementsExcel renders the movement ledger for a store as an xlsx
// workbook for the admin export endpoint.
func ExportMovementsExcel(ctx context.Context, filter MovementFilter) (*excelize.File, error) {
	movements, err := GetInventoryMovements(ctx, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "MovementId")
	f.SetCellValue(sheet, "B1", "ProductId")
	f.SetCellValue(sheet, "C1", "QtyDelta")
	f.SetCellValue(sheet, "D1", "Type")
	f.SetCellValue(sheet, "E1", "ReferenceId")
	f.SetCellValue(sheet, "F1", "WorkerId")
	f.SetCellValue(sheet, "G1", "CreatedAt")

	// Add data
	for i, m := range movements {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, m.ID)
		f.SetCellValue(sheet, "B"+row, m.ProductId)
		f.SetCellValue(sheet, "C"+row, m.QtyDelta)
		f.SetCellValue(sheet, "D"+row, string(m.MovementType))
		f.SetCellValue(sheet, "E"+row, m.ReferenceId)
		f.SetCellValue(sheet, "F"+row, m.WorkerId)
		f.SetCellValue(sheet, "G"+row, m.CreatedAt.Format(time.RFC3339))
	}

	return f, nil
}
