package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
)

// InvoiceValidation is one flag raised against an invoice by a rule run.
// Rows start FLAGGED and move to a terminal status exactly once through the
// override workflow; they are never edited afterwards.
type InvoiceValidation struct {
	ID         int              `gorm:"primary_key" json:"id"`
	InvoiceId  int              `gorm:"index;not null" json:"invoice_id"`
	RuleType   RuleType         `gorm:"type:enum('DUPLICATE_INVOICE_NUMBER','MISSING_INVOICE_NUMBER','AMOUNT_THRESHOLD_EXCEEDED','ROUND_AMOUNT_PATTERN','PRICE_VARIANCE','PO_AMOUNT_VARIANCE','PO_ITEM_MISMATCH','DELIVERY_NOTE_MISMATCH');not null" json:"rule_type"`
	Severity   Severity         `gorm:"type:enum('INFO','WARNING','CRITICAL');not null" json:"severity"`
	Status     ValidationStatus `gorm:"type:enum('FLAGGED','REVIEWED','DISMISSED','OVERRIDDEN');not null;default:FLAGGED;index" json:"status"`
	Details    DetailsMap       `gorm:"type:json" json:"details"`
	Metadata   DetailsMap       `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
	ReviewedAt *time.Time       `gorm:"default:null" json:"reviewed_at"`
	ReviewedBy *int             `gorm:"default:null" json:"reviewed_by"`
}

func GetInvoiceValidation(ctx context.Context, id int) (*InvoiceValidation, error) {
	db := config.GetDB()
	var validation InvoiceValidation
	if err := db.WithContext(ctx).First(&validation, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &validation, nil
}

// GetInvoiceValidations returns every flag row for an invoice, oldest first.
func GetInvoiceValidations(ctx context.Context, invoiceId int) ([]InvoiceValidation, error) {
	db := config.GetDB()
	var validations []InvoiceValidation
	if err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceId).
		Order("id ASC").
		Find(&validations).Error; err != nil {
		return nil, err
	}
	return validations, nil
}

// GetOpenInvoiceValidations returns only the FLAGGED rows for an invoice.
func GetOpenInvoiceValidations(ctx context.Context, invoiceId int) ([]InvoiceValidation, error) {
	db := config.GetDB()
	var validations []InvoiceValidation
	if err := db.WithContext(ctx).
		Where("invoice_id = ? AND status = ?", invoiceId, ValidationStatusFlagged).
		Order("id ASC").
		Find(&validations).Error; err != nil {
		return nil, err
	}
	return validations, nil
}

// FlaggedInvoiceRow joins an open flag with its invoice and vendor for the
// exported review report.
type FlaggedInvoiceRow struct {
	ValidationId  int              `json:"validation_id"`
	InvoiceId     int              `json:"invoice_id"`
	InvoiceNumber string           `json:"invoice_number"`
	VendorName    string           `json:"vendor_name"`
	TotalAmount   string           `json:"total_amount"`
	RuleType      RuleType         `json:"rule_type"`
	Severity      Severity         `json:"severity"`
	Status        ValidationStatus `json:"status"`
	FlaggedAt     time.Time        `json:"flagged_at"`
}

func GetFlaggedInvoiceRows(ctx context.Context) ([]FlaggedInvoiceRow, error) {
	db := config.GetDB()
	var rows []FlaggedInvoiceRow
	err := db.WithContext(ctx).
		Table("invoice_validations AS iv").
		Select("iv.id AS validation_id, iv.invoice_id, i.invoice_number, v.name AS vendor_name, "+
			"i.total_amount, iv.rule_type, iv.severity, iv.status, iv.created_at AS flagged_at").
		Joins("JOIN invoices i ON i.id = iv.invoice_id AND i.deleted_at IS NULL").
		Joins("JOIN vendors v ON v.id = i.vendor_id").
		Where("iv.status = ?", ValidationStatusFlagged).
		Order("iv.severity DESC, iv.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
