package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"gorm.io/gorm/clause"
)

// ValidationRuleConfig is the persisted baseline per rule type. Environment
// variables may override Enabled and the numeric Config keys at read time;
// those overrides never touch these rows.
type ValidationRuleConfig struct {
	ID          int       `gorm:"primary_key" json:"id"`
	RuleType    RuleType  `gorm:"type:enum('DUPLICATE_INVOICE_NUMBER','MISSING_INVOICE_NUMBER','AMOUNT_THRESHOLD_EXCEEDED','ROUND_AMOUNT_PATTERN','PRICE_VARIANCE','PO_AMOUNT_VARIANCE','PO_ITEM_MISMATCH','DELIVERY_NOTE_MISMATCH');uniqueIndex;not null" json:"rule_type"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text;default:null" json:"description"`
	Enabled     *bool     `gorm:"not null;default:true" json:"enabled"`
	Severity    Severity  `gorm:"type:enum('INFO','WARNING','CRITICAL');not null;default:WARNING" json:"severity"`
	Config      NumberMap `gorm:"type:json" json:"config"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const redisKeyValidationRuleConfigList = "validationRuleConfigList"

// GetValidationRuleConfigs returns every persisted rule config, redis-cached.
// The workflow layer snapshots on top of this, so the redis TTL only has to
// cover cold starts across instances.
func GetValidationRuleConfigs(ctx context.Context) ([]ValidationRuleConfig, error) {
	var configs []ValidationRuleConfig
	found, err := config.GetRedisObject(redisKeyValidationRuleConfigList, &configs)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "GetValidationRuleConfigs", "redis get", nil, err)
	}
	if found {
		return configs, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Order("rule_type ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(redisKeyValidationRuleConfigList, configs, 5*time.Minute); err != nil {
		config.LogError(config.GetLogger(), "models", "GetValidationRuleConfigs", "redis set", nil, err)
	}
	return configs, nil
}

func GetValidationRuleConfigByType(ctx context.Context, ruleType RuleType) (*ValidationRuleConfig, error) {
	db := config.GetDB()
	var cfg ValidationRuleConfig
	if err := db.WithContext(ctx).Where("rule_type = ?", ruleType).First(&cfg).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &cfg, nil
}

type UpsertRuleConfigInput struct {
	RuleType    string    `json:"rule_type" binding:"required"`
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Enabled     *bool     `json:"enabled" binding:"required"`
	Severity    string    `json:"severity" binding:"required"`
	Config      NumberMap `json:"config"`
}

// UpsertValidationRuleConfig creates or replaces the row for a rule type and
// drops the redis list cache so other instances refetch.
func UpsertValidationRuleConfig(ctx context.Context, input *UpsertRuleConfigInput) (*ValidationRuleConfig, error) {
	db := config.GetDB()

	ruleType, err := ParseRuleType(input.RuleType)
	if err != nil {
		return nil, err
	}
	severity, err := ParseSeverity(input.Severity)
	if err != nil {
		return nil, err
	}

	cfg := ValidationRuleConfig{
		RuleType:    ruleType,
		Name:        input.Name,
		Description: input.Description,
		Enabled:     input.Enabled,
		Severity:    severity,
		Config:      input.Config,
	}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "enabled", "severity", "config", "updated_at",
		}),
	}).Create(&cfg).Error
	if err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(redisKeyValidationRuleConfigList); err != nil {
		config.LogError(config.GetLogger(), "models", "UpsertValidationRuleConfig", "redis del", nil, err)
	}
	// Reload since ON CONFLICT does not refresh the struct's id on update.
	var saved ValidationRuleConfig
	if err := db.WithContext(ctx).Where("rule_type = ?", ruleType).First(&saved).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

// SeedValidationRuleConfig inserts a config only when the rule type has no
// row yet. Used by the seeding tool so re-runs never clobber tuned values.
func SeedValidationRuleConfig(ctx context.Context, cfg *ValidationRuleConfig) (bool, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_type"}},
		DoNothing: true,
	}).Create(cfg)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
