package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/procure_backend/models"
)

func TestBuildValidationSummaryEmpty(t *testing.T) {
	summary := buildValidationSummary(5, nil)
	if !summary.IsValid {
		t.Fatalf("no flags must be valid")
	}
	if summary.FlagCount != 0 || summary.HasBlockingIssues || summary.HighestSeverity != nil {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestBuildValidationSummaryRollup(t *testing.T) {
	validations := []models.InvoiceValidation{
		{Status: models.ValidationStatusFlagged, Severity: models.SeverityInfo},
		{Status: models.ValidationStatusFlagged, Severity: models.SeverityWarning},
		{Status: models.ValidationStatusOverridden, Severity: models.SeverityCritical},
	}
	summary := buildValidationSummary(5, validations)
	if summary.IsValid {
		t.Fatalf("open flags must make the invoice invalid")
	}
	if summary.FlagCount != 2 {
		t.Fatalf("flagCount = %d, want 2 (resolved rows excluded)", summary.FlagCount)
	}
	if summary.HasBlockingIssues {
		t.Fatalf("overridden CRITICAL must not block")
	}
	if summary.HighestSeverity == nil || *summary.HighestSeverity != models.SeverityWarning {
		t.Fatalf("highestSeverity = %v, want WARNING", summary.HighestSeverity)
	}
	if len(summary.Validations) != 3 {
		t.Fatalf("validations = %d, want all 3 rows returned", len(summary.Validations))
	}
}

func TestBuildValidationSummaryBlocking(t *testing.T) {
	validations := []models.InvoiceValidation{
		{Status: models.ValidationStatusFlagged, Severity: models.SeverityCritical},
	}
	summary := buildValidationSummary(5, validations)
	if !summary.HasBlockingIssues {
		t.Fatalf("open CRITICAL flag must block")
	}
	if *summary.HighestSeverity != models.SeverityCritical {
		t.Fatalf("highestSeverity = %s, want CRITICAL", *summary.HighestSeverity)
	}
}

func TestAllValidationsResolvedIsValid(t *testing.T) {
	validations := []models.InvoiceValidation{
		{Status: models.ValidationStatusDismissed, Severity: models.SeverityWarning},
		{Status: models.ValidationStatusOverridden, Severity: models.SeverityCritical},
	}
	summary := buildValidationSummary(5, validations)
	if !summary.IsValid {
		t.Fatalf("invoice with only resolved flags must be valid")
	}
	if summary.HighestSeverity != nil {
		t.Fatalf("highestSeverity = %v, want nil with no open flags", summary.HighestSeverity)
	}
}

func TestPriceHistoryLimit(t *testing.T) {
	configs := map[models.RuleType]*MergedRuleConfig{}
	if got := priceHistoryLimit(configs); got != 0 {
		t.Fatalf("limit = %d, want 0 when PRICE_VARIANCE is absent", got)
	}

	configs[models.RuleTypePriceVariance] = &MergedRuleConfig{
		RuleType: models.RuleTypePriceVariance,
		Enabled:  false,
		Config:   map[string]float64{"historicalCount": 5},
	}
	if got := priceHistoryLimit(configs); got != 0 {
		t.Fatalf("limit = %d, want 0 when PRICE_VARIANCE is disabled", got)
	}

	configs[models.RuleTypePriceVariance].Enabled = true
	if got := priceHistoryLimit(configs); got != 5 {
		t.Fatalf("limit = %d, want historicalCount 5", got)
	}

	delete(configs[models.RuleTypePriceVariance].Config, "historicalCount")
	if got := priceHistoryLimit(configs); got != defaultPriceHistoryLimit {
		t.Fatalf("limit = %d, want default %d", got, defaultPriceHistoryLimit)
	}
}
