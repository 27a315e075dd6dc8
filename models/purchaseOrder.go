package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/shopspring/decimal"
)

type PurchaseOrder struct {
	ID               int                   `gorm:"primary_key" json:"id"`
	VendorId         int                   `gorm:"index;not null" json:"vendor_id" binding:"required"`
	OrderNumber      string                `gorm:"size:255;not null" json:"order_number" binding:"required"`
	OrderDate        time.Time             `gorm:"not null" json:"order_date" binding:"required"`
	CurrentStatus    PurchaseOrderStatus   `gorm:"type:enum('DRAFT','CONFIRMED','CLOSED','CANCELLED');not null;default:DRAFT" json:"current_status"`
	Notes            string                `gorm:"type:text;default:null" json:"notes"`
	OrderTotalAmount decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"order_total_amount"`
	Details          []PurchaseOrderDetail `json:"details"`
	CreatedAt        time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId   int             `gorm:"index;not null" json:"purchase_order_id"`
	ItemId            int             `gorm:"index" json:"item_id"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	DetailQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_qty" binding:"required"`
	DetailUnitRate    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_unit_rate"`
	DetailTotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_total_amount"`
}

type NewPurchaseOrder struct {
	VendorId    int                      `json:"vendor_id" binding:"required"`
	OrderNumber string                   `json:"order_number" binding:"required"`
	OrderDate   time.Time                `json:"order_date" binding:"required"`
	Notes       string                   `json:"notes"`
	Details     []NewPurchaseOrderDetail `json:"details" binding:"required,dive"`
}

type NewPurchaseOrderDetail struct {
	ItemId         int             `json:"item_id"`
	Name           string          `json:"name" binding:"required"`
	DetailQty      decimal.Decimal `json:"detail_qty" binding:"required"`
	DetailUnitRate decimal.Decimal `json:"detail_unit_rate" binding:"required"`
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	db := config.GetDB()

	if err := validateVendorActive(ctx, input.VendorId); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[PurchaseOrder](ctx, "order_number", input.OrderNumber, 0); err != nil {
		return nil, err
	}

	var details []PurchaseOrderDetail
	var orderTotal decimal.Decimal
	var itemIds []int
	for _, d := range input.Details {
		lineTotal := d.DetailQty.Mul(d.DetailUnitRate)
		details = append(details, PurchaseOrderDetail{
			ItemId:            d.ItemId,
			Name:              d.Name,
			DetailQty:         d.DetailQty,
			DetailUnitRate:    d.DetailUnitRate,
			DetailTotalAmount: lineTotal,
		})
		orderTotal = orderTotal.Add(lineTotal)
		if d.ItemId > 0 {
			itemIds = append(itemIds, d.ItemId)
		}
	}
	if len(itemIds) > 0 {
		if err := utils.ValidateResourcesId[Item](ctx, itemIds); err != nil {
			return nil, err
		}
	}

	purchaseOrder := PurchaseOrder{
		VendorId:         input.VendorId,
		OrderNumber:      input.OrderNumber,
		OrderDate:        input.OrderDate,
		CurrentStatus:    PurchaseOrderStatusDraft,
		Notes:            input.Notes,
		OrderTotalAmount: orderTotal,
		Details:          details,
	}
	if err := db.WithContext(ctx).Create(&purchaseOrder).Error; err != nil {
		return nil, err
	}
	return &purchaseOrder, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	db := config.GetDB()
	var purchaseOrder PurchaseOrder
	if err := db.WithContext(ctx).Preload("Details").First(&purchaseOrder, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &purchaseOrder, nil
}
