package workflow

import (
	"context"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ValidationSummary is the caller-facing result of a validation run or a
// summary read: the open flags plus roll-up fields for approval screens.
type ValidationSummary struct {
	InvoiceId         int                        `json:"invoice_id"`
	IsValid           bool                       `json:"is_valid"`
	FlagCount         int                        `json:"flag_count"`
	HasBlockingIssues bool                       `json:"has_blocking_issues"`
	HighestSeverity   *models.Severity           `json:"highest_severity"`
	Validations       []models.InvoiceValidation `json:"validations"`
}

// buildValidationSummary rolls up flag rows. Only open (FLAGGED) rows count
// toward validity; dismissed and overridden flags are resolved history.
func buildValidationSummary(invoiceId int, validations []models.InvoiceValidation) ValidationSummary {
	summary := ValidationSummary{
		InvoiceId:   invoiceId,
		Validations: validations,
	}
	var highest models.Severity
	for _, v := range validations {
		if v.Status != models.ValidationStatusFlagged {
			continue
		}
		summary.FlagCount++
		if v.Severity == models.SeverityCritical {
			summary.HasBlockingIssues = true
		}
		if v.Severity.Rank() > highest.Rank() {
			highest = v.Severity
		}
	}
	summary.IsValid = summary.FlagCount == 0
	if highest != "" {
		summary.HighestSeverity = &highest
	}
	return summary
}

const validationLockTTL = 30 * time.Second

// defaultPriceHistoryLimit bounds how many history rows per item the
// aggregate loader fetches when PRICE_VARIANCE carries no historicalCount.
const defaultPriceHistoryLimit = 10

func priceHistoryLimit(configs map[models.RuleType]*MergedRuleConfig) int {
	cfg, ok := configs[models.RuleTypePriceVariance]
	if !ok || !cfg.Enabled {
		return 0
	}
	if count := int(cfg.Config["historicalCount"]); count > 0 {
		return count
	}
	return defaultPriceHistoryLimit
}

// ValidateInvoice runs every enabled rule against the invoice and persists
// the results. By default the run is idempotent: still-open flags from the
// previous run are replaced in the same transaction, while reviewed rows are
// kept untouched. VALIDATION_APPEND_ONLY_REVALIDATE switches to append-only.
func ValidateInvoice(ctx context.Context, invoiceId int) (*ValidationSummary, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	// Best effort: the lock narrows the duplicate-run window across
	// instances, the delete-and-insert transaction stays correct without it.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, lockKeyForInvoice(invoiceId), validationLockTTL, nil)
		if err == nil {
			defer lock.Release(context.Background())
		} else if err != redislock.ErrNotObtained {
			config.LogError(logger, "workflow", "ValidateInvoice", "redis lock", invoiceId, err)
		}
	}

	configs, err := GetValidationConfigService().GetAllRuleConfigs(ctx)
	if err != nil {
		return nil, err
	}

	aggregate, err := models.GetInvoiceAggregate(ctx, invoiceId, priceHistoryLimit(configs))
	if err != nil {
		return nil, err
	}

	candidates := evaluateRules(aggregate, configs)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !config.AppendOnlyRevalidate() {
			if err := tx.Where("invoice_id = ? AND status = ?", invoiceId, models.ValidationStatusFlagged).
				Delete(&models.InvoiceValidation{}).Error; err != nil {
				return err
			}
		}
		if len(candidates) > 0 {
			rows := make([]models.InvoiceValidation, 0, len(candidates))
			for _, candidate := range candidates {
				rows = append(rows, models.InvoiceValidation{
					InvoiceId: invoiceId,
					RuleType:  candidate.RuleType,
					Severity:  candidate.Severity,
					Status:    models.ValidationStatusFlagged,
					Details:   candidate.Details,
					Metadata: models.DetailsMap{
						"rule_name": configs[candidate.RuleType].Name,
						"config":    configs[candidate.RuleType].Config,
					},
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return models.PublishDecisionEvent(ctx, tx, models.EventTypeInvoiceValidated, invoiceId, "INVOICE",
			map[string]interface{}{
				"invoice_id": invoiceId,
				"flag_count": len(candidates),
			})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"invoice_id": invoiceId,
		"flag_count": len(candidates),
	}).Info("invoice validated")

	return GetValidationSummary(ctx, invoiceId)
}

// GetValidationSummary is the pure read path: it summarises whatever flag
// rows exist without running any rules.
func GetValidationSummary(ctx context.Context, invoiceId int) (*ValidationSummary, error) {
	if _, err := models.GetInvoice(ctx, invoiceId); err != nil {
		return nil, err
	}
	validations, err := models.GetInvoiceValidations(ctx, invoiceId)
	if err != nil {
		return nil, err
	}
	summary := buildValidationSummary(invoiceId, validations)
	return &summary, nil
}

func lockKeyForInvoice(invoiceId int) string {
	return "invoiceValidationLock:" + strconv.Itoa(invoiceId)
}
