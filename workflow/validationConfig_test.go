package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
)

type fakeRuleConfigSource struct {
	rows       []models.ValidationRuleConfig
	fetchCalls int
	err        error
}

func (f *fakeRuleConfigSource) FindAll(ctx context.Context) ([]models.ValidationRuleConfig, error) {
	f.fetchCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func enabledRow(ruleType models.RuleType, severity models.Severity, cfg models.NumberMap) models.ValidationRuleConfig {
	enabled := true
	return models.ValidationRuleConfig{
		RuleType: ruleType,
		Name:     string(ruleType),
		Enabled:  &enabled,
		Severity: severity,
		Config:   cfg,
	}
}

func newTestConfigService(source RuleConfigSource, ttl time.Duration) *ValidationConfigService {
	return NewValidationConfigService(source, config.GetLogger(), ttl)
}

func TestEnvOverrideWinsOverDatabase(t *testing.T) {
	t.Setenv("VALIDATION_RULE_AMOUNT_THRESHOLD_EXCEEDED_THRESHOLD", "10000")

	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeAmountThresholdExceeded, models.SeverityWarning, models.NumberMap{"threshold": 5000}),
	}}
	svc := newTestConfigService(source, time.Minute)

	cfg, err := svc.GetRuleConfig(context.Background(), models.RuleTypeAmountThresholdExceeded)
	if err != nil {
		t.Fatalf("GetRuleConfig: %v", err)
	}
	if got := cfg.Config["threshold"]; got != 10000 {
		t.Fatalf("threshold = %v, want env override 10000", got)
	}
	if cfg.Severity != models.SeverityWarning {
		t.Fatalf("severity = %s, want WARNING from DB row", cfg.Severity)
	}
}

func TestInvalidEnabledOverrideFallsBackToDatabase(t *testing.T) {
	t.Setenv("VALIDATION_RULE_MISSING_INVOICE_NUMBER_ENABLED", "yes")

	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeMissingInvoiceNumber, models.SeverityWarning, nil),
	}}
	svc := newTestConfigService(source, time.Minute)

	cfg, err := svc.GetRuleConfig(context.Background(), models.RuleTypeMissingInvoiceNumber)
	if err != nil {
		t.Fatalf("GetRuleConfig: %v", err)
	}
	if !cfg.Enabled {
		t.Fatalf("enabled = false; invalid override must keep the DB value")
	}

	warnings := svc.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if warnings[0].Variable != "VALIDATION_RULE_MISSING_INVOICE_NUMBER_ENABLED" || warnings[0].Value != "yes" {
		t.Fatalf("unexpected warning: %+v", warnings[0])
	}
}

func TestNegativeNumericOverrideRejected(t *testing.T) {
	t.Setenv("VALIDATION_RULE_PRICE_VARIANCE_VARIANCE_PERCENT", "-5")

	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypePriceVariance, models.SeverityWarning,
			models.NumberMap{"variancePercent": 20, "historicalCount": 5}),
	}}
	svc := newTestConfigService(source, time.Minute)

	cfg, err := svc.GetRuleConfig(context.Background(), models.RuleTypePriceVariance)
	if err != nil {
		t.Fatalf("GetRuleConfig: %v", err)
	}
	if got := cfg.Config["variancePercent"]; got != 20 {
		t.Fatalf("variancePercent = %v, want DB value 20 after rejected override", got)
	}
	if len(svc.Warnings()) != 1 {
		t.Fatalf("warnings = %d, want 1", len(svc.Warnings()))
	}
}

func TestZeroNumericOverrideIsValid(t *testing.T) {
	t.Setenv("VALIDATION_RULE_AMOUNT_THRESHOLD_EXCEEDED_THRESHOLD", "0")

	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeAmountThresholdExceeded, models.SeverityWarning, models.NumberMap{"threshold": 5000}),
	}}
	svc := newTestConfigService(source, time.Minute)

	cfg, err := svc.GetRuleConfig(context.Background(), models.RuleTypeAmountThresholdExceeded)
	if err != nil {
		t.Fatalf("GetRuleConfig: %v", err)
	}
	if got := cfg.Config["threshold"]; got != 0 {
		t.Fatalf("threshold = %v, want 0 (zero is a valid override)", got)
	}
	if len(svc.Warnings()) != 0 {
		t.Fatalf("warnings = %d, want 0", len(svc.Warnings()))
	}
}

func TestEnvOnlyRuleAppearsInSnapshot(t *testing.T) {
	t.Setenv("VALIDATION_RULE_ROUND_AMOUNT_PATTERN_ENABLED", "true")
	t.Setenv("VALIDATION_RULE_ROUND_AMOUNT_PATTERN_MINIMUM_AMOUNT", "500")

	source := &fakeRuleConfigSource{}
	svc := newTestConfigService(source, time.Minute)

	cfg, err := svc.GetRuleConfig(context.Background(), models.RuleTypeRoundAmountPattern)
	if err != nil {
		t.Fatalf("GetRuleConfig: %v", err)
	}
	if !cfg.Enabled {
		t.Fatalf("enabled = false, want true from env")
	}
	if got := cfg.Config["minimumAmount"]; got != 500 {
		t.Fatalf("minimumAmount = %v, want 500", got)
	}
}

func TestSnapshotReferenceEqualWithinTTL(t *testing.T) {
	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeDuplicateInvoiceNumber, models.SeverityCritical, nil),
	}}
	svc := newTestConfigService(source, time.Minute)

	first, err := svc.GetAllRuleConfigs(context.Background())
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := svc.GetAllRuleConfigs(context.Background())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if first[models.RuleTypeDuplicateInvoiceNumber] != again[models.RuleTypeDuplicateInvoiceNumber] {
			t.Fatalf("read %d returned a different snapshot within the TTL", i)
		}
	}
	if source.fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d, want 1 within TTL", source.fetchCalls)
	}
}

func TestInvalidateCacheForcesRefetch(t *testing.T) {
	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeDuplicateInvoiceNumber, models.SeverityCritical, nil),
	}}
	svc := newTestConfigService(source, time.Minute)

	if _, err := svc.GetAllRuleConfigs(context.Background()); err != nil {
		t.Fatalf("first read: %v", err)
	}
	svc.InvalidateCache()
	if _, err := svc.GetAllRuleConfigs(context.Background()); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if source.fetchCalls != 2 {
		t.Fatalf("fetchCalls = %d, want 2 after invalidate", source.fetchCalls)
	}
}

func TestStaleSnapshotServedOnSourceFailure(t *testing.T) {
	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeDuplicateInvoiceNumber, models.SeverityCritical, nil),
	}}
	svc := newTestConfigService(source, time.Nanosecond)

	if _, err := svc.GetAllRuleConfigs(context.Background()); err != nil {
		t.Fatalf("first read: %v", err)
	}

	source.err = errors.New("db down")
	time.Sleep(time.Millisecond)
	snapshot, err := svc.GetAllRuleConfigs(context.Background())
	if err != nil {
		t.Fatalf("stale read should not fail: %v", err)
	}
	if _, ok := snapshot[models.RuleTypeDuplicateInvoiceNumber]; !ok {
		t.Fatalf("stale snapshot lost its entries")
	}
}

func TestGetRuleConfigUnknownType(t *testing.T) {
	source := &fakeRuleConfigSource{}
	svc := newTestConfigService(source, time.Minute)

	_, err := svc.GetRuleConfig(context.Background(), models.RuleTypePoItemMismatch)
	if err == nil {
		t.Fatalf("expected ConfigNotFoundError")
	}
	var notFound *utils.ConfigNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error type = %T, want *utils.ConfigNotFoundError", err)
	}
	if notFound.Error() != "No configuration found for rule type PO_ITEM_MISMATCH" {
		t.Fatalf("unexpected message: %q", notFound.Error())
	}
}

func TestCacheStats(t *testing.T) {
	source := &fakeRuleConfigSource{rows: []models.ValidationRuleConfig{
		enabledRow(models.RuleTypeDuplicateInvoiceNumber, models.SeverityCritical, nil),
	}}
	svc := newTestConfigService(source, time.Minute)

	if stats := svc.Stats(); stats.IsCached {
		t.Fatalf("stats before first read should report not cached")
	}
	if _, err := svc.GetAllRuleConfigs(context.Background()); err != nil {
		t.Fatalf("read: %v", err)
	}
	stats := svc.Stats()
	if !stats.IsCached || stats.RuleCount != 1 || stats.TTLSeconds != 60 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
