package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
)

type Vendor struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:100;default:null" json:"email"`
	Phone     string    `gorm:"size:20;default:null" json:"phone"`
	TaxId     string    `gorm:"size:100;default:null" json:"tax_id"`
	Address   string    `gorm:"type:text;default:null" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendor struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	TaxId   string `json:"tax_id"`
	Address string `json:"address"`
}

func CreateVendor(ctx context.Context, input *NewVendor) (*Vendor, error) {
	db := config.GetDB()

	phone, err := utils.NormalizePhone(input.Phone, "MM")
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateUnique[Vendor](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}

	active := true
	vendor := Vendor{
		Name:     input.Name,
		Email:    input.Email,
		Phone:    phone,
		TaxId:    input.TaxId,
		Address:  input.Address,
		IsActive: &active,
	}
	if err := db.WithContext(ctx).Create(&vendor).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

func GetVendor(ctx context.Context, id int) (*Vendor, error) {
	db := config.GetDB()
	var vendor Vendor
	if err := db.WithContext(ctx).First(&vendor, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &vendor, nil
}

func GetVendors(ctx context.Context, activeOnly bool) ([]*Vendor, error) {
	db := config.GetDB()
	var vendors []*Vendor
	dbCtx := db.WithContext(ctx)
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	if err := dbCtx.Order("name ASC").Find(&vendors).Error; err != nil {
		return nil, err
	}
	return vendors, nil
}

func ToggleVendorActive(ctx context.Context, id int, isActive bool) (*Vendor, error) {
	db := config.GetDB()
	var vendor Vendor
	if err := db.WithContext(ctx).First(&vendor, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := db.WithContext(ctx).Model(&vendor).Update("is_active", isActive).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

var errVendorInactive = errors.New("vendor is inactive")

func validateVendorActive(ctx context.Context, vendorId int) error {
	vendor, err := GetVendor(ctx, vendorId)
	if err != nil {
		return errors.New("vendor not found")
	}
	if vendor.IsActive == nil || !*vendor.IsActive {
		return errVendorInactive
	}
	return nil
}
