package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Item struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku           string          `gorm:"size:100;default:null" json:"sku"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewItem struct {
	Name          string          `json:"name" binding:"required"`
	Sku           string          `json:"sku"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

// ItemPriceHistory is one observed purchase price for an item, recorded when
// an invoice is created. PRICE_VARIANCE compares new invoice prices against
// the most recent rows per item.
type ItemPriceHistory struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ItemId     int             `gorm:"index;not null" json:"item_id"`
	VendorId   int             `gorm:"index;not null" json:"vendor_id"`
	InvoiceId  int             `gorm:"index;not null" json:"invoice_id"`
	UnitRate   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_rate"`
	RecordedAt time.Time       `gorm:"autoCreateTime;index" json:"recorded_at"`
}

func CreateItem(ctx context.Context, input *NewItem) (*Item, error) {
	db := config.GetDB()

	if err := utils.ValidateUnique[Item](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}

	active := true
	item := Item{
		Name:          input.Name,
		Sku:           input.Sku,
		PurchasePrice: input.PurchasePrice,
		IsActive:      &active,
	}
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func GetItem(ctx context.Context, id int) (*Item, error) {
	db := config.GetDB()
	var item Item
	if err := db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &item, nil
}

// recordItemPrices appends one price history row per invoice line referencing
// a real item. Called inside the invoice create transaction.
func recordItemPrices(tx *gorm.DB, invoice *Invoice) error {
	var rows []ItemPriceHistory
	for _, detail := range invoice.Details {
		if detail.ItemId == 0 {
			continue
		}
		rows = append(rows, ItemPriceHistory{
			ItemId:    detail.ItemId,
			VendorId:  invoice.VendorId,
			InvoiceId: invoice.ID,
			UnitRate:  detail.DetailUnitRate,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// GetRecentItemPrices returns up to limit most recent observed unit rates per
// item, newest first, excluding rows recorded by excludeInvoiceId.
func GetRecentItemPrices(ctx context.Context, itemIds []int, limit int, excludeInvoiceId int) (map[int][]decimal.Decimal, error) {
	result := make(map[int][]decimal.Decimal, len(itemIds))
	if len(itemIds) == 0 || limit <= 0 {
		return result, nil
	}

	db := config.GetDB()
	var rows []ItemPriceHistory
	if err := db.WithContext(ctx).
		Where("item_id IN ?", utils.UniqueSlice(itemIds)).
		Where("invoice_id <> ?", excludeInvoiceId).
		Order("item_id ASC, recorded_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		if len(result[row.ItemId]) >= limit {
			continue
		}
		result[row.ItemId] = append(result[row.ItemId], row.UnitRate)
	}
	return result, nil
}
