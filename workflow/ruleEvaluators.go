package workflow

import (
	"strings"

	"bitbucket.org/mmdatafocus/procure_backend/models"
	"github.com/shopspring/decimal"
)

// FlagCandidate is one potential flag produced by a rule evaluator. The
// orchestrator turns candidates into InvoiceValidation rows.
type FlagCandidate struct {
	RuleType models.RuleType
	Severity models.Severity
	Details  map[string]interface{}
}

// ruleEvaluator inspects a fully-loaded invoice aggregate against one merged
// rule config. Evaluators are pure: no queries, no clock, no mutation.
type ruleEvaluator func(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate

var ruleEvaluators = map[models.RuleType]ruleEvaluator{
	models.RuleTypeDuplicateInvoiceNumber:  evaluateDuplicateInvoiceNumber,
	models.RuleTypeMissingInvoiceNumber:    evaluateMissingInvoiceNumber,
	models.RuleTypeAmountThresholdExceeded: evaluateAmountThresholdExceeded,
	models.RuleTypeRoundAmountPattern:      evaluateRoundAmountPattern,
	models.RuleTypePriceVariance:           evaluatePriceVariance,
	models.RuleTypePoAmountVariance:        evaluatePoAmountVariance,
	models.RuleTypePoItemMismatch:          evaluatePoItemMismatch,
	models.RuleTypeDeliveryNoteMismatch:    evaluateDeliveryNoteMismatch,
}

func newFlag(cfg *MergedRuleConfig, details map[string]interface{}) *FlagCandidate {
	return &FlagCandidate{
		RuleType: cfg.RuleType,
		Severity: cfg.Severity,
		Details:  details,
	}
}

func evaluateDuplicateInvoiceNumber(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	if strings.TrimSpace(agg.Invoice.InvoiceNumber) == "" {
		return nil
	}
	if len(agg.DuplicateInvoices) == 0 {
		return nil
	}
	var duplicateIds []int
	for _, dup := range agg.DuplicateInvoices {
		duplicateIds = append(duplicateIds, dup.ID)
	}
	return newFlag(cfg, map[string]interface{}{
		"invoice_number":        agg.Invoice.InvoiceNumber,
		"vendor_id":             agg.Invoice.VendorId,
		"duplicate_invoice_ids": duplicateIds,
	})
}

func evaluateMissingInvoiceNumber(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	if strings.TrimSpace(agg.Invoice.InvoiceNumber) != "" {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"invoice_id": agg.Invoice.ID,
	})
}

func evaluateAmountThresholdExceeded(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	threshold, ok := cfg.Config["threshold"]
	if !ok {
		return nil
	}
	limit := decimal.NewFromFloat(threshold)
	if agg.Invoice.TotalAmount.LessThanOrEqual(limit) {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"total_amount": agg.Invoice.TotalAmount.String(),
		"threshold":    limit.String(),
	})
}

func evaluateRoundAmountPattern(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	total := agg.Invoice.TotalAmount
	if total.IsZero() {
		return nil
	}
	minimum := decimal.NewFromFloat(cfg.Config["minimumAmount"])
	if total.LessThan(minimum) {
		return nil
	}
	if !total.Mod(decimal.NewFromInt(100)).IsZero() {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"total_amount":   total.String(),
		"minimum_amount": minimum.String(),
	})
}

func evaluatePriceVariance(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	variancePercent, ok := cfg.Config["variancePercent"]
	if !ok {
		return nil
	}
	historicalCount := int(cfg.Config["historicalCount"])
	if historicalCount <= 0 {
		return nil
	}
	limit := decimal.NewFromFloat(variancePercent)

	var outliers []map[string]interface{}
	for _, detail := range agg.Invoice.Details {
		if detail.ItemId == 0 {
			continue
		}
		history := agg.PriceHistory[detail.ItemId]
		if len(history) == 0 {
			continue
		}
		if len(history) > historicalCount {
			history = history[:historicalCount]
		}

		sum := decimal.Zero
		for _, price := range history {
			sum = sum.Add(price)
		}
		mean := sum.Div(decimal.NewFromInt(int64(len(history))))
		if mean.IsZero() {
			continue
		}
		variance := detail.DetailUnitRate.Sub(mean).Abs().
			Div(mean).
			Mul(decimal.NewFromInt(100))
		if variance.LessThanOrEqual(limit) {
			continue
		}
		outliers = append(outliers, map[string]interface{}{
			"item_id":          detail.ItemId,
			"name":             detail.Name,
			"unit_rate":        detail.DetailUnitRate.String(),
			"historical_mean":  mean.String(),
			"variance_percent": variance.Round(2).String(),
			"sample_size":      len(history),
		})
	}
	if len(outliers) == 0 {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"variance_percent_limit": limit.String(),
		"items":                  outliers,
	})
}

func evaluatePoAmountVariance(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	if agg.Invoice.PurchaseOrder == nil {
		return nil
	}
	variancePercent, ok := cfg.Config["variancePercent"]
	if !ok {
		return nil
	}
	orderTotal := agg.Invoice.PurchaseOrder.OrderTotalAmount
	if orderTotal.IsZero() {
		return nil
	}
	limit := decimal.NewFromFloat(variancePercent)
	variance := agg.Invoice.TotalAmount.Sub(orderTotal).Abs().
		Div(orderTotal).
		Mul(decimal.NewFromInt(100))
	if variance.LessThanOrEqual(limit) {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"invoice_total":          agg.Invoice.TotalAmount.String(),
		"order_total":            orderTotal.String(),
		"variance_percent":       variance.Round(2).String(),
		"variance_percent_limit": limit.String(),
		"purchase_order_id":      agg.Invoice.PurchaseOrder.ID,
	})
}

func evaluatePoItemMismatch(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	po := agg.Invoice.PurchaseOrder
	if po == nil {
		return nil
	}

	orderedQty := map[int]decimal.Decimal{}
	for _, detail := range po.Details {
		if detail.ItemId == 0 {
			continue
		}
		orderedQty[detail.ItemId] = orderedQty[detail.ItemId].Add(detail.DetailQty)
	}

	invoicedQty := map[int]decimal.Decimal{}
	lineNames := map[int]string{}
	for _, detail := range agg.Invoice.Details {
		if detail.ItemId == 0 {
			continue
		}
		invoicedQty[detail.ItemId] = invoicedQty[detail.ItemId].Add(detail.DetailQty)
		lineNames[detail.ItemId] = detail.Name
	}

	var mismatches []map[string]interface{}
	for _, detail := range agg.Invoice.Details {
		itemId := detail.ItemId
		if itemId == 0 {
			continue
		}
		ordered, onOrder := orderedQty[itemId]
		if !onOrder {
			mismatches = append(mismatches, map[string]interface{}{
				"item_id": itemId,
				"name":    lineNames[itemId],
				"problem": "not on purchase order",
			})
			delete(invoicedQty, itemId)
			continue
		}
		invoiced, pending := invoicedQty[itemId]
		if !pending {
			continue
		}
		if invoiced.GreaterThan(ordered) {
			mismatches = append(mismatches, map[string]interface{}{
				"item_id":      itemId,
				"name":         lineNames[itemId],
				"problem":      "invoiced quantity exceeds ordered quantity",
				"invoiced_qty": invoiced.String(),
				"ordered_qty":  ordered.String(),
			})
		}
		delete(invoicedQty, itemId)
	}
	if len(mismatches) == 0 {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"purchase_order_id": po.ID,
		"mismatches":        mismatches,
	})
}

func evaluateDeliveryNoteMismatch(agg *models.InvoiceAggregate, cfg *MergedRuleConfig) *FlagCandidate {
	// An invoice without delivery notes is out of scope for this rule.
	if len(agg.Invoice.DeliveryNotes) == 0 {
		return nil
	}

	deliveredQty := map[int]decimal.Decimal{}
	for _, note := range agg.Invoice.DeliveryNotes {
		for _, detail := range note.Details {
			if detail.ItemId == 0 {
				continue
			}
			deliveredQty[detail.ItemId] = deliveredQty[detail.ItemId].Add(detail.DetailQty)
		}
	}

	invoicedQty := map[int]decimal.Decimal{}
	lineNames := map[int]string{}
	for _, detail := range agg.Invoice.Details {
		if detail.ItemId == 0 {
			continue
		}
		invoicedQty[detail.ItemId] = invoicedQty[detail.ItemId].Add(detail.DetailQty)
		lineNames[detail.ItemId] = detail.Name
	}

	var mismatches []map[string]interface{}
	for itemId, invoiced := range invoicedQty {
		delivered := deliveredQty[itemId]
		if invoiced.Equal(delivered) {
			continue
		}
		mismatches = append(mismatches, map[string]interface{}{
			"item_id":       itemId,
			"name":          lineNames[itemId],
			"invoiced_qty":  invoiced.String(),
			"delivered_qty": delivered.String(),
		})
	}
	for itemId, delivered := range deliveredQty {
		if _, invoiced := invoicedQty[itemId]; invoiced {
			continue
		}
		mismatches = append(mismatches, map[string]interface{}{
			"item_id":       itemId,
			"invoiced_qty":  "0",
			"delivered_qty": delivered.String(),
		})
	}
	if len(mismatches) == 0 {
		return nil
	}
	return newFlag(cfg, map[string]interface{}{
		"delivery_note_count": len(agg.Invoice.DeliveryNotes),
		"mismatches":          mismatches,
	})
}

// evaluateRules runs every enabled rule in the canonical order and collects
// the raised candidates.
func evaluateRules(agg *models.InvoiceAggregate, configs map[models.RuleType]*MergedRuleConfig) []*FlagCandidate {
	var candidates []*FlagCandidate
	for _, ruleType := range models.AllRuleTypes() {
		cfg, ok := configs[ruleType]
		if !ok || !cfg.Enabled {
			continue
		}
		evaluate, ok := ruleEvaluators[ruleType]
		if !ok {
			continue
		}
		if flag := evaluate(agg, cfg); flag != nil {
			candidates = append(candidates, flag)
		}
	}
	return candidates
}
