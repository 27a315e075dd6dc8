package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID              int             `gorm:"primary_key" json:"id"`
	UserId          int             `gorm:"index;not null" json:"user_id"`
	VendorId        int             `gorm:"index;not null" json:"vendor_id" binding:"required"`
	PurchaseOrderId *int            `gorm:"index;default:null" json:"purchase_order_id"`
	InvoiceNumber   string          `gorm:"size:255;default:null" json:"invoice_number"`
	InvoiceDate     time.Time       `gorm:"not null" json:"invoice_date" binding:"required"`
	CurrentStatus   InvoiceStatus   `gorm:"type:enum('DRAFT','SUBMITTED','APPROVED','PAID','VOID');not null;default:DRAFT" json:"current_status"`
	Notes           string          `gorm:"type:text;default:null" json:"notes"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Details         []InvoiceDetail `json:"details"`
	DeliveryNotes   []DeliveryNote  `json:"delivery_notes"`
	Vendor          Vendor          `json:"vendor"`
	PurchaseOrder   *PurchaseOrder  `json:"purchase_order"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

type InvoiceDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	InvoiceId         int             `gorm:"index;not null" json:"invoice_id"`
	ItemId            int             `gorm:"index" json:"item_id"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	DetailQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_qty" binding:"required"`
	DetailUnitRate    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_unit_rate"`
	DetailTotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_total_amount"`
}

// DeliveryNote records goods received against an invoice. Quantities here are
// what DELIVERY_NOTE_MISMATCH reconciles invoice lines against.
type DeliveryNote struct {
	ID         int                  `gorm:"primary_key" json:"id"`
	InvoiceId  int                  `gorm:"index;not null" json:"invoice_id"`
	NoteNumber string               `gorm:"size:255;not null" json:"note_number"`
	NoteDate   time.Time            `gorm:"not null" json:"note_date"`
	Details    []DeliveryNoteDetail `json:"details"`
	CreatedAt  time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

type DeliveryNoteDetail struct {
	ID             int             `gorm:"primary_key" json:"id"`
	DeliveryNoteId int             `gorm:"index;not null" json:"delivery_note_id"`
	ItemId         int             `gorm:"index" json:"item_id"`
	DetailQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_qty"`
}

type NewInvoice struct {
	VendorId        int                `json:"vendor_id" binding:"required"`
	PurchaseOrderId *int               `json:"purchase_order_id"`
	InvoiceNumber   string             `json:"invoice_number"`
	InvoiceDate     time.Time          `json:"invoice_date" binding:"required"`
	Notes           string             `json:"notes"`
	Details         []NewInvoiceDetail `json:"details" validate:"required,dive,required"`
}

type NewInvoiceDetail struct {
	ItemId         int             `json:"item_id"`
	Name           string          `json:"name" binding:"required"`
	DetailQty      decimal.Decimal `json:"detail_qty" binding:"required"`
	DetailUnitRate decimal.Decimal `json:"detail_unit_rate" binding:"required"`
}

// DuplicateInvoiceRef is another non-deleted invoice of the same vendor that
// shares the invoice number, pre-loaded for DUPLICATE_INVOICE_NUMBER.
type DuplicateInvoiceRef struct {
	ID            int           `json:"id"`
	InvoiceNumber string        `json:"invoice_number"`
	CurrentStatus InvoiceStatus `json:"current_status"`
}

// InvoiceAggregate is the fully-loaded context the rule evaluators consume.
// Everything is fetched here in one shot; evaluators never issue queries.
type InvoiceAggregate struct {
	Invoice           *Invoice
	DuplicateInvoices []DuplicateInvoiceRef
	// PriceHistory maps item id to the most recent observed unit rates,
	// newest first, excluding this invoice's own rows.
	PriceHistory map[int][]decimal.Decimal
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := validateVendorActive(ctx, input.VendorId); err != nil {
		return nil, err
	}
	if input.PurchaseOrderId != nil && *input.PurchaseOrderId > 0 {
		if err := utils.ValidateResourceId[PurchaseOrder](ctx, *input.PurchaseOrderId); err != nil {
			return nil, errors.New("purchase order not found")
		}
	}

	var details []InvoiceDetail
	var totalAmount decimal.Decimal
	var itemIds []int
	for _, d := range input.Details {
		lineTotal := d.DetailQty.Mul(d.DetailUnitRate)
		details = append(details, InvoiceDetail{
			ItemId:            d.ItemId,
			Name:              d.Name,
			DetailQty:         d.DetailQty,
			DetailUnitRate:    d.DetailUnitRate,
			DetailTotalAmount: lineTotal,
		})
		totalAmount = totalAmount.Add(lineTotal)
		if d.ItemId > 0 {
			itemIds = append(itemIds, d.ItemId)
		}
	}
	if len(itemIds) > 0 {
		if err := utils.ValidateResourcesId[Item](ctx, itemIds); err != nil {
			return nil, errors.New("item not found")
		}
	}

	invoice := Invoice{
		UserId:          userId,
		VendorId:        input.VendorId,
		PurchaseOrderId: input.PurchaseOrderId,
		InvoiceNumber:   input.InvoiceNumber,
		InvoiceDate:     input.InvoiceDate,
		CurrentStatus:   InvoiceStatusDraft,
		Notes:           input.Notes,
		TotalAmount:     totalAmount,
		Details:         details,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		return recordItemPrices(tx, &invoice)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	if err := db.WithContext(ctx).
		Preload("Details").
		Preload("DeliveryNotes.Details").
		Preload("DeliveryNotes").
		Preload("Vendor").
		Preload("PurchaseOrder.Details").
		Preload("PurchaseOrder").
		First(&invoice, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &invoice, nil
}

// GetInvoiceAggregate loads the invoice with everything the rule evaluators
// need: line items, delivery notes, vendor, linked purchase order, sibling
// invoices sharing the number, and recent item price history (up to
// priceHistoryLimit rows per item).
func GetInvoiceAggregate(ctx context.Context, id int, priceHistoryLimit int) (*InvoiceAggregate, error) {
	db := config.GetDB()

	invoice, err := GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	aggregate := InvoiceAggregate{
		Invoice:      invoice,
		PriceHistory: map[int][]decimal.Decimal{},
	}

	if invoice.InvoiceNumber != "" {
		var duplicates []DuplicateInvoiceRef
		if err := db.WithContext(ctx).Model(&Invoice{}).
			Select("id", "invoice_number", "current_status").
			Where("vendor_id = ? AND invoice_number = ? AND id <> ?", invoice.VendorId, invoice.InvoiceNumber, invoice.ID).
			Find(&duplicates).Error; err != nil {
			return nil, err
		}
		aggregate.DuplicateInvoices = duplicates
	}

	if priceHistoryLimit > 0 {
		var itemIds []int
		for _, d := range invoice.Details {
			if d.ItemId > 0 {
				itemIds = append(itemIds, d.ItemId)
			}
		}
		history, err := GetRecentItemPrices(ctx, itemIds, priceHistoryLimit, invoice.ID)
		if err != nil {
			return nil, err
		}
		aggregate.PriceHistory = history
	}

	return &aggregate, nil
}

// invoiceStatusTransitions holds the allowed server-side transitions.
var invoiceStatusTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusSubmitted, InvoiceStatusVoid},
	InvoiceStatusSubmitted: {InvoiceStatusApproved, InvoiceStatusDraft, InvoiceStatusVoid},
	InvoiceStatusApproved:  {InvoiceStatusPaid, InvoiceStatusVoid},
	InvoiceStatusPaid:      {},
	InvoiceStatusVoid:      {},
}

func UpdateInvoiceStatus(ctx context.Context, id int, newStatus InvoiceStatus) (*Invoice, error) {
	db := config.GetDB()

	var invoice Invoice
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&invoice, id).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		allowed := false
		for _, next := range invoiceStatusTransitions[invoice.CurrentStatus] {
			if next == newStatus {
				allowed = true
				break
			}
		}
		if !allowed {
			return utils.NewBusinessRuleError(
				"invalid invoice status transition from " + string(invoice.CurrentStatus) + " to " + string(newStatus))
		}
		if err := tx.Model(&invoice).Update("current_status", newStatus).Error; err != nil {
			return err
		}
		invoice.CurrentStatus = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

type NewDeliveryNote struct {
	InvoiceId  int                     `json:"invoice_id" binding:"required"`
	NoteNumber string                  `json:"note_number" binding:"required"`
	NoteDate   time.Time               `json:"note_date" binding:"required"`
	Details    []NewDeliveryNoteDetail `json:"details" binding:"required,dive"`
}

type NewDeliveryNoteDetail struct {
	ItemId    int             `json:"item_id"`
	DetailQty decimal.Decimal `json:"detail_qty" binding:"required"`
}

func CreateDeliveryNote(ctx context.Context, input *NewDeliveryNote) (*DeliveryNote, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Invoice](ctx, input.InvoiceId); err != nil {
		return nil, errors.New("invoice not found")
	}

	note := DeliveryNote{
		InvoiceId:  input.InvoiceId,
		NoteNumber: input.NoteNumber,
		NoteDate:   input.NoteDate,
	}
	for _, d := range input.Details {
		note.Details = append(note.Details, DeliveryNoteDetail{
			ItemId:    d.ItemId,
			DetailQty: d.DetailQty,
		})
	}
	if err := db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, err
	}
	return &note, nil
}
