// seed-rules inserts the default validation rule configs and an initial admin
// user. Existing rows are never overwritten, so re-running after tuning a
// rule in production is safe.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-rules
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"gorm.io/gorm"
)

const (
	adminUsername = "procureAdmin"
	adminPassword = "Pr0cure@dmin"
	adminName     = "Procure Admin"
)

func boolPtr(v bool) *bool { return &v }

func defaultRuleConfigs() []models.ValidationRuleConfig {
	return []models.ValidationRuleConfig{
		{
			RuleType:    models.RuleTypeDuplicateInvoiceNumber,
			Name:        "Duplicate invoice number",
			Description: "Another invoice from the same vendor already uses this invoice number.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityCritical,
		},
		{
			RuleType:    models.RuleTypeMissingInvoiceNumber,
			Name:        "Missing invoice number",
			Description: "The invoice has no invoice number.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityWarning,
		},
		{
			RuleType:    models.RuleTypeAmountThresholdExceeded,
			Name:        "Amount threshold exceeded",
			Description: "The invoice total exceeds the configured threshold.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityWarning,
			Config:      models.NumberMap{"threshold": 10000},
		},
		{
			RuleType:    models.RuleTypeRoundAmountPattern,
			Name:        "Round amount pattern",
			Description: "The invoice total is a suspiciously round number.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityInfo,
			Config:      models.NumberMap{"minimumAmount": 1000},
		},
		{
			RuleType:    models.RuleTypePriceVariance,
			Name:        "Price variance",
			Description: "A line price deviates from the item's recent purchase history.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityWarning,
			Config:      models.NumberMap{"variancePercent": 20, "historicalCount": 5},
		},
		{
			RuleType:    models.RuleTypePoAmountVariance,
			Name:        "Purchase order amount variance",
			Description: "The invoice total deviates from the linked purchase order total.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityWarning,
			Config:      models.NumberMap{"variancePercent": 10},
		},
		{
			RuleType:    models.RuleTypePoItemMismatch,
			Name:        "Purchase order item mismatch",
			Description: "The invoice bills items or quantities not on the linked purchase order.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityCritical,
		},
		{
			RuleType:    models.RuleTypeDeliveryNoteMismatch,
			Name:        "Delivery note mismatch",
			Description: "Invoiced quantities do not match the recorded delivery notes.",
			Enabled:     boolPtr(true),
			Severity:    models.SeverityWarning,
		},
	}
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	for _, cfg := range defaultRuleConfigs() {
		cfg := cfg
		created, err := models.SeedValidationRuleConfig(ctx, &cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed rule %s: %v\n", cfg.RuleType, err)
			os.Exit(1)
		}
		if created {
			fmt.Printf("Seeded rule config: %s\n", cfg.RuleType)
		} else {
			fmt.Printf("Rule config already present, skipped: %s\n", cfg.RuleType)
		}
	}

	var existing models.User
	err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err == nil {
		fmt.Printf("Admin user already present, skipped: username=%q\n", adminUsername)
		return
	}
	if err != gorm.ErrRecordNotFound {
		fmt.Fprintf(os.Stderr, "failed to lookup admin user: %v\n", err)
		os.Exit(1)
	}

	admin, err := models.CreateUser(ctx, &models.NewUser{
		Username: adminUsername,
		Name:     adminName,
		Password: adminPassword,
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created admin user: username=%q id=%d\n", admin.Username, admin.ID)
}
