package workflow

import (
	"context"
	"html"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const minOverrideReasonLength = 10

// sanitizeReason trims and HTML-escapes the justification text. The escaped
// form is what gets persisted, so stored reasons are safe to render as-is.
func sanitizeReason(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minOverrideReasonLength {
		return "", utils.NewValidationError("reason must be at least 10 characters")
	}
	return html.EscapeString(trimmed), nil
}

// checkOverridable gates the target rows: the flag must still be open and
// the parent invoice must not have advanced past review.
func checkOverridable(validation *models.InvoiceValidation, invoiceStatus models.InvoiceStatus) error {
	if validation.Status == models.ValidationStatusOverridden {
		return utils.NewConflictError("Validation has already been overridden")
	}
	if validation.Status.IsTerminal() {
		return utils.NewConflictError("Validation has already been resolved")
	}
	if invoiceStatus == models.InvoiceStatusApproved || invoiceStatus == models.InvoiceStatusPaid {
		return utils.NewBusinessRuleError("Cannot override validations on approved or paid invoices")
	}
	return nil
}

// authorizeOverride implements the ownership rule: plain users may only act
// on their own invoices; managers and admins may act on any.
func authorizeOverride(role models.UserRole, userId, invoiceOwnerId int) error {
	if role == models.UserRoleManager || role == models.UserRoleAdmin {
		return nil
	}
	if userId == invoiceOwnerId {
		return nil
	}
	return utils.NewUnauthorizedError(
		"Unauthorized: users can only override validations on their own invoices unless they are a manager or admin")
}

// invoiceOverrideRef is the slim locked read of the parent invoice used
// inside the decision transaction.
type invoiceOverrideRef struct {
	ID            int
	UserId        int
	CurrentStatus models.InvoiceStatus
}

// OverrideValidation resolves one open flag as OVERRIDDEN. Status change,
// override record, audit row and outbox event commit in a single transaction
// with the flag row locked, so two concurrent overrides cannot both win.
func OverrideValidation(ctx context.Context, validationId int, userId int, reason string) (*models.InvoiceValidation, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	sanitizedReason, err := sanitizeReason(reason)
	if err != nil {
		return nil, err
	}

	var validation models.InvoiceValidation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&validation, validationId).Error; err != nil {
			return utils.NewNotFoundError("Validation not found")
		}

		var invoice invoiceOverrideRef
		if err := tx.Model(&models.Invoice{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "user_id", "current_status").
			Where("id = ?", validation.InvoiceId).
			First(&invoice).Error; err != nil {
			return utils.NewNotFoundError("Invoice not found")
		}

		if err := checkOverridable(&validation, invoice.CurrentStatus); err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, userId).Error; err != nil {
			return utils.NewNotFoundError("User not found")
		}

		if err := authorizeOverride(user.Role, userId, invoice.UserId); err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":      models.ValidationStatusOverridden,
			"reviewed_at": now,
			"reviewed_by": userId,
		}
		if err := tx.Model(&validation).Updates(updates).Error; err != nil {
			return err
		}
		validation.Status = models.ValidationStatusOverridden
		validation.ReviewedAt = &now
		validation.ReviewedBy = &userId

		override := models.ValidationOverride{
			ValidationId: validation.ID,
			UserId:       userId,
			Reason:       sanitizedReason,
		}
		if err := tx.Create(&override).Error; err != nil {
			return err
		}

		isOwner := userId == invoice.UserId
		changes := map[string]interface{}{
			"reason":        sanitizedReason,
			"validation_id": validation.ID,
			"invoice_id":    invoice.ID,
			"rule_type":     validation.RuleType,
			"severity":      validation.Severity,
			"is_owner":      isOwner,
			"user_role":     user.Role,
			"user_name":     user.Name,
		}
		if err := models.CreateAuditLog(ctx, tx, userId, models.AuditActionValidationOverridden,
			"invoice_validation", validation.ID, changes); err != nil {
			return err
		}

		return models.PublishDecisionEvent(ctx, tx, models.EventTypeValidationOverridden,
			validation.ID, "INVOICE_VALIDATION", map[string]interface{}{
				"validation_id": validation.ID,
				"invoice_id":    invoice.ID,
				"rule_type":     validation.RuleType,
				"user_id":       userId,
			})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"validation_id": validation.ID,
		"invoice_id":    validation.InvoiceId,
		"user_id":       userId,
	}).Info("validation overridden")

	return &validation, nil
}

// ReviewValidation applies a non-override decision. DISMISS moves the flag
// to DISMISSED under the same gating as an override; ESCALATE leaves the
// status untouched and only records the audit row and event, so the flag
// stays actionable for a manager.
func ReviewValidation(ctx context.Context, validationId int, userId int, action models.ReviewAction, reason string) (*models.InvoiceValidation, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	sanitizedReason, err := sanitizeReason(reason)
	if err != nil {
		return nil, err
	}

	var validation models.InvoiceValidation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&validation, validationId).Error; err != nil {
			return utils.NewNotFoundError("Validation not found")
		}

		var invoice invoiceOverrideRef
		if err := tx.Model(&models.Invoice{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "user_id", "current_status").
			Where("id = ?", validation.InvoiceId).
			First(&invoice).Error; err != nil {
			return utils.NewNotFoundError("Invoice not found")
		}

		if err := checkOverridable(&validation, invoice.CurrentStatus); err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, userId).Error; err != nil {
			return utils.NewNotFoundError("User not found")
		}

		if err := authorizeOverride(user.Role, userId, invoice.UserId); err != nil {
			return err
		}

		auditAction := models.AuditActionValidationEscalated
		eventType := models.EventTypeValidationEscalated
		if action == models.ReviewActionDismiss {
			auditAction = models.AuditActionValidationDismissed
			eventType = models.EventTypeValidationDismissed

			now := time.Now()
			updates := map[string]interface{}{
				"status":      models.ValidationStatusDismissed,
				"reviewed_at": now,
				"reviewed_by": userId,
			}
			if err := tx.Model(&validation).Updates(updates).Error; err != nil {
				return err
			}
			validation.Status = models.ValidationStatusDismissed
			validation.ReviewedAt = &now
			validation.ReviewedBy = &userId
		}

		changes := map[string]interface{}{
			"reason":        sanitizedReason,
			"validation_id": validation.ID,
			"invoice_id":    invoice.ID,
			"rule_type":     validation.RuleType,
			"severity":      validation.Severity,
			"is_owner":      userId == invoice.UserId,
			"user_role":     user.Role,
			"user_name":     user.Name,
		}
		if err := models.CreateAuditLog(ctx, tx, userId, auditAction,
			"invoice_validation", validation.ID, changes); err != nil {
			return err
		}

		return models.PublishDecisionEvent(ctx, tx, eventType,
			validation.ID, "INVOICE_VALIDATION", map[string]interface{}{
				"validation_id": validation.ID,
				"invoice_id":    invoice.ID,
				"rule_type":     validation.RuleType,
				"user_id":       userId,
			})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"validation_id": validation.ID,
		"invoice_id":    validation.InvoiceId,
		"user_id":       userId,
		"action":        action,
	}).Info("validation reviewed")

	return &validation, nil
}
