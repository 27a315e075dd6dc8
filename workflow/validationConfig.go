package workflow

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/sirupsen/logrus"
)

// MergedRuleConfig is the effective config for one rule after environment
// overrides are layered on top of the persisted row. Evaluators only ever see
// this merged view.
type MergedRuleConfig struct {
	RuleType models.RuleType    `json:"rule_type"`
	Name     string             `json:"name"`
	Enabled  bool               `json:"enabled"`
	Severity models.Severity    `json:"severity"`
	Config   map[string]float64 `json:"config"`
}

// OverrideWarning records an environment variable that was present but could
// not be applied. Invalid overrides never fail a merge; the persisted value
// stays in effect.
type OverrideWarning struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
	Reason   string `json:"reason"`
}

const envRulePrefix = "VALIDATION_RULE_"

// numericEnvKeys maps each rule type to its tunable config keys and the env
// suffix each one answers to. Rules absent here have no numeric knobs.
var numericEnvKeys = map[models.RuleType]map[string]string{
	models.RuleTypeAmountThresholdExceeded: {"threshold": "THRESHOLD"},
	models.RuleTypeRoundAmountPattern:      {"minimumAmount": "MINIMUM_AMOUNT"},
	models.RuleTypePriceVariance: {
		"variancePercent": "VARIANCE_PERCENT",
		"historicalCount": "HISTORICAL_COUNT",
	},
	models.RuleTypePoAmountVariance: {"variancePercent": "VARIANCE_PERCENT"},
}

// defaultSeverities backs rules that are enabled purely through environment
// variables with no persisted row.
var defaultSeverities = map[models.RuleType]models.Severity{
	models.RuleTypeDuplicateInvoiceNumber:  models.SeverityCritical,
	models.RuleTypeMissingInvoiceNumber:    models.SeverityWarning,
	models.RuleTypeAmountThresholdExceeded: models.SeverityWarning,
	models.RuleTypeRoundAmountPattern:      models.SeverityInfo,
	models.RuleTypePriceVariance:           models.SeverityWarning,
	models.RuleTypePoAmountVariance:        models.SeverityWarning,
	models.RuleTypePoItemMismatch:          models.SeverityCritical,
	models.RuleTypeDeliveryNoteMismatch:    models.SeverityWarning,
}

func envKeyFor(ruleType models.RuleType, suffix string) string {
	return envRulePrefix + string(ruleType) + "_" + suffix
}

type envOverride struct {
	enabled *bool
	numbers map[string]float64
}

// scanEnvOverrides reads every recognised VALIDATION_RULE_* variable. Invalid
// values produce a warning and are skipped; a valid zero is a real override.
func scanEnvOverrides() (map[models.RuleType]envOverride, []OverrideWarning) {
	overrides := map[models.RuleType]envOverride{}
	var warnings []OverrideWarning

	for _, ruleType := range models.AllRuleTypes() {
		override := envOverride{numbers: map[string]float64{}}
		hasAny := false

		enabledKey := envKeyFor(ruleType, "ENABLED")
		if raw, ok := os.LookupEnv(enabledKey); ok {
			switch raw {
			case "true":
				v := true
				override.enabled = &v
				hasAny = true
			case "false":
				v := false
				override.enabled = &v
				hasAny = true
			default:
				warnings = append(warnings, OverrideWarning{
					Variable: enabledKey,
					Value:    raw,
					Reason:   `must be exactly "true" or "false"`,
				})
			}
		}

		for configKey, suffix := range numericEnvKeys[ruleType] {
			envKey := envKeyFor(ruleType, suffix)
			raw, ok := os.LookupEnv(envKey)
			if !ok {
				continue
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				warnings = append(warnings, OverrideWarning{
					Variable: envKey,
					Value:    raw,
					Reason:   "not a number",
				})
				continue
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				warnings = append(warnings, OverrideWarning{
					Variable: envKey,
					Value:    raw,
					Reason:   "must be finite",
				})
				continue
			}
			if value < 0 {
				warnings = append(warnings, OverrideWarning{
					Variable: envKey,
					Value:    raw,
					Reason:   "must not be negative",
				})
				continue
			}
			override.numbers[configKey] = value
			hasAny = true
		}

		if hasAny {
			overrides[ruleType] = override
		}
	}
	return overrides, warnings
}

// RuleConfigSource fetches the persisted baseline rows. The production source
// is the models package; tests swap in a fake.
type RuleConfigSource interface {
	FindAll(ctx context.Context) ([]models.ValidationRuleConfig, error)
}

type dbRuleConfigSource struct{}

func (dbRuleConfigSource) FindAll(ctx context.Context) ([]models.ValidationRuleConfig, error) {
	return models.GetValidationRuleConfigs(ctx)
}

// ValidationConfigService serves merged rule configs from a TTL snapshot.
// Within the TTL every caller gets the same map value, so concurrent
// validation runs of one batch see one consistent config set.
type ValidationConfigService struct {
	source RuleConfigSource
	logger *logrus.Logger
	ttl    time.Duration

	mu        sync.Mutex
	snapshot  map[models.RuleType]*MergedRuleConfig
	fetchedAt time.Time
	warnings  []OverrideWarning
}

const defaultConfigTTL = 5 * time.Minute

func NewValidationConfigService(source RuleConfigSource, logger *logrus.Logger, ttl time.Duration) *ValidationConfigService {
	if ttl <= 0 {
		ttl = defaultConfigTTL
	}
	return &ValidationConfigService{
		source: source,
		logger: logger,
		ttl:    ttl,
	}
}

// GetAllRuleConfigs returns the merged snapshot, refreshing it when the TTL
// has lapsed. The returned map must be treated as read-only.
func (s *ValidationConfigService) GetAllRuleConfigs(ctx context.Context) (map[models.RuleType]*MergedRuleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && time.Since(s.fetchedAt) < s.ttl {
		return s.snapshot, nil
	}

	rows, err := s.source.FindAll(ctx)
	if err != nil {
		// Serve the stale snapshot rather than failing a validation run.
		if s.snapshot != nil {
			config.LogError(s.logger, "workflow", "GetAllRuleConfigs", "serving stale config snapshot", nil, err)
			return s.snapshot, nil
		}
		return nil, err
	}

	snapshot, warnings := mergeRuleConfigs(rows)
	s.snapshot = snapshot
	s.fetchedAt = time.Now()
	s.warnings = warnings
	for _, w := range warnings {
		s.logger.WithFields(logrus.Fields{
			"variable": w.Variable,
			"value":    w.Value,
			"reason":   w.Reason,
		}).Warn("ignoring invalid validation rule override")
	}
	return s.snapshot, nil
}

// GetRuleConfig returns the merged config for one rule type.
func (s *ValidationConfigService) GetRuleConfig(ctx context.Context, ruleType models.RuleType) (*MergedRuleConfig, error) {
	snapshot, err := s.GetAllRuleConfigs(ctx)
	if err != nil {
		return nil, err
	}
	cfg, ok := snapshot[ruleType]
	if !ok {
		return nil, &utils.ConfigNotFoundError{RuleType: string(ruleType)}
	}
	return cfg, nil
}

// InvalidateCache drops the snapshot so the next read refetches.
func (s *ValidationConfigService) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.fetchedAt = time.Time{}
}

// Warnings returns the override warnings collected by the last refresh.
func (s *ValidationConfigService) Warnings() []OverrideWarning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OverrideWarning(nil), s.warnings...)
}

// ConfigCacheStats describes the current snapshot for the ops endpoint.
type ConfigCacheStats struct {
	IsCached   bool    `json:"is_cached"`
	AgeSeconds float64 `json:"age_seconds"`
	TTLSeconds float64 `json:"ttl_seconds"`
	RuleCount  int     `json:"rule_count"`
}

func (s *ValidationConfigService) Stats() ConfigCacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := ConfigCacheStats{TTLSeconds: s.ttl.Seconds()}
	if s.snapshot != nil && time.Since(s.fetchedAt) < s.ttl {
		stats.IsCached = true
		stats.AgeSeconds = time.Since(s.fetchedAt).Seconds()
		stats.RuleCount = len(s.snapshot)
	}
	return stats
}

// mergeRuleConfigs builds the snapshot: one entry per rule type that has a
// persisted row, an environment override, or both. Environment wins per key.
func mergeRuleConfigs(rows []models.ValidationRuleConfig) (map[models.RuleType]*MergedRuleConfig, []OverrideWarning) {
	overrides, warnings := scanEnvOverrides()

	byType := map[models.RuleType]models.ValidationRuleConfig{}
	for _, row := range rows {
		byType[row.RuleType] = row
	}

	snapshot := map[models.RuleType]*MergedRuleConfig{}
	for _, ruleType := range models.AllRuleTypes() {
		row, hasRow := byType[ruleType]
		override, hasOverride := overrides[ruleType]
		if !hasRow && !hasOverride {
			continue
		}

		merged := MergedRuleConfig{
			RuleType: ruleType,
			Name:     fmt.Sprintf("%s rule", ruleType),
			Severity: defaultSeverities[ruleType],
			Config:   map[string]float64{},
		}
		if hasRow {
			merged.Name = row.Name
			merged.Severity = row.Severity
			merged.Enabled = row.Enabled != nil && *row.Enabled
			for k, v := range row.Config {
				merged.Config[k] = v
			}
		}
		if hasOverride {
			if override.enabled != nil {
				merged.Enabled = *override.enabled
			}
			for k, v := range override.numbers {
				merged.Config[k] = v
			}
		}
		snapshot[ruleType] = &merged
	}
	return snapshot, warnings
}

var (
	validationConfigService *ValidationConfigService
	validationConfigOnce    sync.Once
)

// InitValidationConfig wires the package-level service against the database
// source. Safe to call more than once.
func InitValidationConfig() *ValidationConfigService {
	validationConfigOnce.Do(func() {
		validationConfigService = NewValidationConfigService(dbRuleConfigSource{}, config.GetLogger(), defaultConfigTTL)
	})
	return validationConfigService
}

// GetValidationConfigService returns the package-level service, initialising
// it on first use.
func GetValidationConfigService() *ValidationConfigService {
	return InitValidationConfig()
}
