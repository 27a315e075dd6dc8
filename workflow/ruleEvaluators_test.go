package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/models"
	"github.com/shopspring/decimal"
)

func mergedConfig(ruleType models.RuleType, severity models.Severity, enabled bool, cfg map[string]float64) *MergedRuleConfig {
	if cfg == nil {
		cfg = map[string]float64{}
	}
	return &MergedRuleConfig{
		RuleType: ruleType,
		Name:     string(ruleType),
		Enabled:  enabled,
		Severity: severity,
		Config:   cfg,
	}
}

func testInvoice(number string, total decimal.Decimal) *models.Invoice {
	return &models.Invoice{
		ID:            100,
		UserId:        1,
		VendorId:      7,
		InvoiceNumber: number,
		InvoiceDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CurrentStatus: models.InvoiceStatusSubmitted,
		TotalAmount:   total,
	}
}

func TestDisabledRuleNeverFlags(t *testing.T) {
	agg := &models.InvoiceAggregate{
		Invoice:      testInvoice("", decimal.NewFromInt(50000)),
		PriceHistory: map[int][]decimal.Decimal{},
	}
	configs := map[models.RuleType]*MergedRuleConfig{
		models.RuleTypeMissingInvoiceNumber: mergedConfig(
			models.RuleTypeMissingInvoiceNumber, models.SeverityWarning, false, nil),
		models.RuleTypeAmountThresholdExceeded: mergedConfig(
			models.RuleTypeAmountThresholdExceeded, models.SeverityWarning, false,
			map[string]float64{"threshold": 10000}),
	}
	if flags := evaluateRules(agg, configs); len(flags) != 0 {
		t.Fatalf("disabled rules raised %d flags", len(flags))
	}
}

func TestMissingNumberAndThresholdScenario(t *testing.T) {
	agg := &models.InvoiceAggregate{
		Invoice:      testInvoice("  ", decimal.NewFromInt(15001)),
		PriceHistory: map[int][]decimal.Decimal{},
	}
	configs := map[models.RuleType]*MergedRuleConfig{
		models.RuleTypeMissingInvoiceNumber: mergedConfig(
			models.RuleTypeMissingInvoiceNumber, models.SeverityWarning, true, nil),
		models.RuleTypeAmountThresholdExceeded: mergedConfig(
			models.RuleTypeAmountThresholdExceeded, models.SeverityWarning, true,
			map[string]float64{"threshold": 10000}),
	}

	flags := evaluateRules(agg, configs)
	if len(flags) != 2 {
		t.Fatalf("flags = %d, want 2 (missing number + threshold)", len(flags))
	}
	if flags[0].RuleType != models.RuleTypeMissingInvoiceNumber {
		t.Fatalf("first flag = %s, want MISSING_INVOICE_NUMBER (evaluation order)", flags[0].RuleType)
	}
	if flags[1].RuleType != models.RuleTypeAmountThresholdExceeded {
		t.Fatalf("second flag = %s, want AMOUNT_THRESHOLD_EXCEEDED", flags[1].RuleType)
	}
}

func TestCleanInvoiceRaisesNoFlags(t *testing.T) {
	agg := &models.InvoiceAggregate{
		Invoice:      testInvoice("INV-001", decimal.NewFromInt(2550)),
		PriceHistory: map[int][]decimal.Decimal{},
	}
	configs := map[models.RuleType]*MergedRuleConfig{}
	for _, ruleType := range models.AllRuleTypes() {
		configs[ruleType] = mergedConfig(ruleType, models.SeverityWarning, true, map[string]float64{
			"threshold":       10000,
			"minimumAmount":   1000,
			"variancePercent": 20,
			"historicalCount": 5,
		})
	}
	if flags := evaluateRules(agg, configs); len(flags) != 0 {
		t.Fatalf("clean invoice raised %d flags: %+v", len(flags), flags)
	}
}

func TestDuplicateInvoiceNumberFlag(t *testing.T) {
	agg := &models.InvoiceAggregate{
		Invoice: testInvoice("INV-001", decimal.NewFromInt(500)),
		DuplicateInvoices: []models.DuplicateInvoiceRef{
			{ID: 42, InvoiceNumber: "INV-001", CurrentStatus: models.InvoiceStatusPaid},
		},
		PriceHistory: map[int][]decimal.Decimal{},
	}
	cfg := mergedConfig(models.RuleTypeDuplicateInvoiceNumber, models.SeverityCritical, true, nil)

	flag := evaluateDuplicateInvoiceNumber(agg, cfg)
	if flag == nil {
		t.Fatalf("expected a duplicate flag")
	}
	if flag.Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want CRITICAL from config", flag.Severity)
	}
	ids, ok := flag.Details["duplicate_invoice_ids"].([]int)
	if !ok || len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("unexpected duplicate ids: %v", flag.Details["duplicate_invoice_ids"])
	}
}

func TestRoundAmountPattern(t *testing.T) {
	cfg := mergedConfig(models.RuleTypeRoundAmountPattern, models.SeverityInfo, true,
		map[string]float64{"minimumAmount": 1000})

	cases := []struct {
		total   string
		flagged bool
	}{
		{"5000", true},
		{"5000.00", true},
		{"500", false},   // below minimumAmount
		{"5050", false},  // not a multiple of 100
		{"0", false},     // zero total never flags
		{"1000", true},   // boundary: minimum itself
		{"999.99", false},
	}
	for _, tc := range cases {
		total, err := decimal.NewFromString(tc.total)
		if err != nil {
			t.Fatalf("bad total %q: %v", tc.total, err)
		}
		agg := &models.InvoiceAggregate{
			Invoice:      testInvoice("INV-001", total),
			PriceHistory: map[int][]decimal.Decimal{},
		}
		flag := evaluateRoundAmountPattern(agg, cfg)
		if (flag != nil) != tc.flagged {
			t.Fatalf("total %s: flagged = %t, want %t", tc.total, flag != nil, tc.flagged)
		}
	}
}

func TestPriceVarianceUsesHistoricalMean(t *testing.T) {
	invoice := testInvoice("INV-001", decimal.NewFromInt(300))
	invoice.Details = []models.InvoiceDetail{
		{ItemId: 5, Name: "Copier paper", DetailQty: decimal.NewFromInt(1), DetailUnitRate: decimal.NewFromInt(300)},
	}
	agg := &models.InvoiceAggregate{
		Invoice: invoice,
		PriceHistory: map[int][]decimal.Decimal{
			// mean of the 3 most recent = 100
			5: {decimal.NewFromInt(90), decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(9999)},
		},
	}
	cfg := mergedConfig(models.RuleTypePriceVariance, models.SeverityWarning, true,
		map[string]float64{"variancePercent": 20, "historicalCount": 3})

	flag := evaluatePriceVariance(agg, cfg)
	if flag == nil {
		t.Fatalf("300 vs mean 100 must exceed 20%% variance")
	}
	items, ok := flag.Details["items"].([]map[string]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected items detail: %v", flag.Details["items"])
	}
	if items[0]["historical_mean"] != "100" {
		t.Fatalf("historical_mean = %v, want 100 (older rows beyond historicalCount ignored)", items[0]["historical_mean"])
	}

	// Within tolerance: no flag.
	invoice.Details[0].DetailUnitRate = decimal.NewFromInt(110)
	if flag := evaluatePriceVariance(agg, cfg); flag != nil {
		t.Fatalf("110 vs mean 100 is within 20%%, got flag %+v", flag)
	}
}

func TestPriceVarianceNoHistoryNoFlag(t *testing.T) {
	invoice := testInvoice("INV-001", decimal.NewFromInt(300))
	invoice.Details = []models.InvoiceDetail{
		{ItemId: 5, Name: "Copier paper", DetailQty: decimal.NewFromInt(1), DetailUnitRate: decimal.NewFromInt(300)},
	}
	agg := &models.InvoiceAggregate{Invoice: invoice, PriceHistory: map[int][]decimal.Decimal{}}
	cfg := mergedConfig(models.RuleTypePriceVariance, models.SeverityWarning, true,
		map[string]float64{"variancePercent": 20, "historicalCount": 5})

	if flag := evaluatePriceVariance(agg, cfg); flag != nil {
		t.Fatalf("item without history must not flag, got %+v", flag)
	}
}

func TestPoAmountVariance(t *testing.T) {
	invoice := testInvoice("INV-001", decimal.NewFromInt(1150))
	invoice.PurchaseOrder = &models.PurchaseOrder{
		ID:               9,
		OrderTotalAmount: decimal.NewFromInt(1000),
	}
	agg := &models.InvoiceAggregate{Invoice: invoice, PriceHistory: map[int][]decimal.Decimal{}}
	cfg := mergedConfig(models.RuleTypePoAmountVariance, models.SeverityWarning, true,
		map[string]float64{"variancePercent": 10})

	flag := evaluatePoAmountVariance(agg, cfg)
	if flag == nil {
		t.Fatalf("15%% variance over a 10%% limit must flag")
	}
	if flag.Details["variance_percent"] != "15" {
		t.Fatalf("variance_percent = %v, want 15", flag.Details["variance_percent"])
	}

	invoice.TotalAmount = decimal.NewFromInt(1100)
	if flag := evaluatePoAmountVariance(agg, cfg); flag != nil {
		t.Fatalf("exactly 10%% variance is within the limit, got %+v", flag)
	}

	invoice.PurchaseOrder = nil
	invoice.TotalAmount = decimal.NewFromInt(99999)
	if flag := evaluatePoAmountVariance(agg, cfg); flag != nil {
		t.Fatalf("invoice without a PO must not flag, got %+v", flag)
	}
}

func TestPoItemMismatch(t *testing.T) {
	invoice := testInvoice("INV-001", decimal.NewFromInt(100))
	invoice.Details = []models.InvoiceDetail{
		{ItemId: 1, Name: "Stapler", DetailQty: decimal.NewFromInt(4)},
		{ItemId: 2, Name: "Desk lamp", DetailQty: decimal.NewFromInt(1)},
	}
	invoice.PurchaseOrder = &models.PurchaseOrder{
		ID: 9,
		Details: []models.PurchaseOrderDetail{
			{ItemId: 1, DetailQty: decimal.NewFromInt(3)},
		},
	}
	agg := &models.InvoiceAggregate{Invoice: invoice, PriceHistory: map[int][]decimal.Decimal{}}
	cfg := mergedConfig(models.RuleTypePoItemMismatch, models.SeverityCritical, true, nil)

	flag := evaluatePoItemMismatch(agg, cfg)
	if flag == nil {
		t.Fatalf("expected mismatch flag")
	}
	mismatches, ok := flag.Details["mismatches"].([]map[string]interface{})
	if !ok || len(mismatches) != 2 {
		t.Fatalf("mismatches = %v, want 2 (qty excess + unknown item)", flag.Details["mismatches"])
	}

	// Matching invoice: no flag.
	invoice.Details = []models.InvoiceDetail{
		{ItemId: 1, Name: "Stapler", DetailQty: decimal.NewFromInt(3)},
	}
	if flag := evaluatePoItemMismatch(agg, cfg); flag != nil {
		t.Fatalf("matching lines must not flag, got %+v", flag)
	}
}

func TestDeliveryNoteMismatch(t *testing.T) {
	invoice := testInvoice("INV-001", decimal.NewFromInt(100))
	invoice.Details = []models.InvoiceDetail{
		{ItemId: 1, Name: "Stapler", DetailQty: decimal.NewFromInt(5)},
	}
	cfg := mergedConfig(models.RuleTypeDeliveryNoteMismatch, models.SeverityWarning, true, nil)

	// No delivery notes recorded: rule does not apply.
	agg := &models.InvoiceAggregate{Invoice: invoice, PriceHistory: map[int][]decimal.Decimal{}}
	if flag := evaluateDeliveryNoteMismatch(agg, cfg); flag != nil {
		t.Fatalf("no delivery notes must not flag, got %+v", flag)
	}

	// Two partial deliveries adding up: no flag.
	invoice.DeliveryNotes = []models.DeliveryNote{
		{Details: []models.DeliveryNoteDetail{{ItemId: 1, DetailQty: decimal.NewFromInt(2)}}},
		{Details: []models.DeliveryNoteDetail{{ItemId: 1, DetailQty: decimal.NewFromInt(3)}}},
	}
	if flag := evaluateDeliveryNoteMismatch(agg, cfg); flag != nil {
		t.Fatalf("fully delivered must not flag, got %+v", flag)
	}

	// Short delivery: flag.
	invoice.DeliveryNotes[1].Details[0].DetailQty = decimal.NewFromInt(1)
	flag := evaluateDeliveryNoteMismatch(agg, cfg)
	if flag == nil {
		t.Fatalf("short delivery must flag")
	}
	mismatches := flag.Details["mismatches"].([]map[string]interface{})
	if len(mismatches) != 1 || mismatches[0]["delivered_qty"] != "3" {
		t.Fatalf("unexpected mismatches: %v", mismatches)
	}
}
