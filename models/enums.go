package models

import (
	"errors"
)

type RuleType string

const (
	RuleTypeDuplicateInvoiceNumber  RuleType = "DUPLICATE_INVOICE_NUMBER"
	RuleTypeMissingInvoiceNumber    RuleType = "MISSING_INVOICE_NUMBER"
	RuleTypeAmountThresholdExceeded RuleType = "AMOUNT_THRESHOLD_EXCEEDED"
	RuleTypeRoundAmountPattern      RuleType = "ROUND_AMOUNT_PATTERN"
	RuleTypePriceVariance           RuleType = "PRICE_VARIANCE"
	RuleTypePoAmountVariance        RuleType = "PO_AMOUNT_VARIANCE"
	RuleTypePoItemMismatch          RuleType = "PO_ITEM_MISMATCH"
	RuleTypeDeliveryNoteMismatch    RuleType = "DELIVERY_NOTE_MISMATCH"
)

// AllRuleTypes returns the closed rule set in evaluation order.
func AllRuleTypes() []RuleType {
	return []RuleType{
		RuleTypeDuplicateInvoiceNumber,
		RuleTypeMissingInvoiceNumber,
		RuleTypeAmountThresholdExceeded,
		RuleTypeRoundAmountPattern,
		RuleTypePriceVariance,
		RuleTypePoAmountVariance,
		RuleTypePoItemMismatch,
		RuleTypeDeliveryNoteMismatch,
	}
}

func ParseRuleType(s string) (RuleType, error) {
	for _, t := range AllRuleTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", errors.New("invalid rule type")
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities for highest-severity summaries.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	}
	return "", errors.New("invalid severity")
}

type ValidationStatus string

const (
	ValidationStatusFlagged    ValidationStatus = "FLAGGED"
	ValidationStatusReviewed   ValidationStatus = "REVIEWED"
	ValidationStatusDismissed  ValidationStatus = "DISMISSED"
	ValidationStatusOverridden ValidationStatus = "OVERRIDDEN"
)

// IsTerminal reports whether no further transition may leave the status.
// FLAGGED is the only non-terminal state.
func (s ValidationStatus) IsTerminal() bool {
	return s != ValidationStatusFlagged
}

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSubmitted InvoiceStatus = "SUBMITTED"
	InvoiceStatusApproved  InvoiceStatus = "APPROVED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusVoid      InvoiceStatus = "VOID"
)

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch InvoiceStatus(s) {
	case InvoiceStatusDraft, InvoiceStatusSubmitted, InvoiceStatusApproved, InvoiceStatusPaid, InvoiceStatusVoid:
		return InvoiceStatus(s), nil
	}
	return "", errors.New("invalid invoice status")
}

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "DRAFT"
	PurchaseOrderStatusConfirmed PurchaseOrderStatus = "CONFIRMED"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "CLOSED"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "CANCELLED"
)

type UserRole string

const (
	UserRoleUser    UserRole = "USER"
	UserRoleManager UserRole = "MANAGER"
	UserRoleAdmin   UserRole = "ADMIN"
)

type ReviewAction string

const (
	ReviewActionDismiss  ReviewAction = "DISMISS"
	ReviewActionEscalate ReviewAction = "ESCALATE"
)

func ParseReviewAction(s string) (ReviewAction, error) {
	switch ReviewAction(s) {
	case ReviewActionDismiss, ReviewActionEscalate:
		return ReviewAction(s), nil
	}
	return "", errors.New("invalid review action")
}

const (
	AuditActionValidationOverridden = "VALIDATION_OVERRIDDEN"
	AuditActionValidationDismissed  = "VALIDATION_DISMISSED"
	AuditActionValidationEscalated  = "VALIDATION_ESCALATED"
)
