package workflow

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
)

func TestSanitizeReason(t *testing.T) {
	if _, err := sanitizeReason("short"); err == nil {
		t.Fatalf("5-char reason must be rejected")
	} else {
		var validationErr *utils.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("error type = %T, want *utils.ValidationError", err)
		}
		if !regexp.MustCompile(`at least 10 characters`).MatchString(err.Error()) {
			t.Fatalf("unexpected message: %q", err.Error())
		}
	}

	// Exactly 10 characters after trimming is accepted.
	got, err := sanitizeReason("  1234567890  ")
	if err != nil {
		t.Fatalf("10-char reason rejected: %v", err)
	}
	if got != "1234567890" {
		t.Fatalf("sanitized = %q", got)
	}

	// Whitespace padding does not count toward the length.
	if _, err := sanitizeReason("   short    "); err == nil {
		t.Fatalf("padded short reason must be rejected")
	}

	// Markup is escaped, not stripped.
	got, err = sanitizeReason(`<script>alert("x")</script>`)
	if err != nil {
		t.Fatalf("sanitizeReason: %v", err)
	}
	if strings.Contains(got, "<script>") {
		t.Fatalf("markup survived sanitization: %q", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Fatalf("expected escaped markup, got %q", got)
	}
}

func TestCheckOverridable(t *testing.T) {
	open := &models.InvoiceValidation{Status: models.ValidationStatusFlagged}

	if err := checkOverridable(open, models.InvoiceStatusSubmitted); err != nil {
		t.Fatalf("open flag on submitted invoice must be overridable: %v", err)
	}
	if err := checkOverridable(open, models.InvoiceStatusDraft); err != nil {
		t.Fatalf("open flag on draft invoice must be overridable: %v", err)
	}

	overridden := &models.InvoiceValidation{Status: models.ValidationStatusOverridden}
	err := checkOverridable(overridden, models.InvoiceStatusSubmitted)
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error type = %T, want *utils.ConflictError", err)
	}
	if !regexp.MustCompile(`already been overridden`).MatchString(err.Error()) {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	dismissed := &models.InvoiceValidation{Status: models.ValidationStatusDismissed}
	err = checkOverridable(dismissed, models.InvoiceStatusSubmitted)
	if !errors.As(err, &conflict) {
		t.Fatalf("error type = %T, want *utils.ConflictError", err)
	}
	if !regexp.MustCompile(`already been resolved`).MatchString(err.Error()) {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	for _, status := range []models.InvoiceStatus{models.InvoiceStatusApproved, models.InvoiceStatusPaid} {
		err := checkOverridable(open, status)
		var business *utils.BusinessRuleError
		if !errors.As(err, &business) {
			t.Fatalf("%s: error type = %T, want *utils.BusinessRuleError", status, err)
		}
		if !regexp.MustCompile(`approved or paid`).MatchString(err.Error()) {
			t.Fatalf("%s: unexpected message: %q", status, err.Error())
		}
	}

	// Terminal validation status is checked before the invoice status.
	err = checkOverridable(overridden, models.InvoiceStatusPaid)
	if !errors.As(err, &conflict) {
		t.Fatalf("terminal flag must win over invoice gating, got %T", err)
	}
}

func TestAuthorizeOverride(t *testing.T) {
	cases := []struct {
		role    models.UserRole
		userId  int
		ownerId int
		allowed bool
	}{
		{models.UserRoleUser, 1, 1, true},
		{models.UserRoleUser, 1, 2, false},
		{models.UserRoleManager, 1, 2, true},
		{models.UserRoleManager, 1, 1, true},
		{models.UserRoleAdmin, 1, 2, true},
	}
	for _, tc := range cases {
		err := authorizeOverride(tc.role, tc.userId, tc.ownerId)
		if tc.allowed && err != nil {
			t.Fatalf("%s user=%d owner=%d: unexpected denial: %v", tc.role, tc.userId, tc.ownerId, err)
		}
		if !tc.allowed {
			var unauthorized *utils.UnauthorizedError
			if !errors.As(err, &unauthorized) {
				t.Fatalf("%s user=%d owner=%d: error type = %T, want *utils.UnauthorizedError", tc.role, tc.userId, tc.ownerId, err)
			}
			if !regexp.MustCompile(`their own invoices unless they are a manager or admin`).MatchString(err.Error()) {
				t.Fatalf("unexpected message: %q", err.Error())
			}
		}
	}
}
