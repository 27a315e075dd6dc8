package models

import (
	"bitbucket.org/mmdatafocus/procure_backend/config"
)

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&User{},
		&Vendor{},
		&Item{},
		&ItemPriceHistory{},
		&PurchaseOrder{},
		&PurchaseOrderDetail{},
		&Invoice{},
		&InvoiceDetail{},
		&DeliveryNote{},
		&DeliveryNoteDetail{},
		&ValidationRuleConfig{},
		&InvoiceValidation{},
		&ValidationOverride{},
		&AuditLog{},
		&OutboxMessageRecord{},
	)
	if err != nil {
		panic(err)
	}
}
