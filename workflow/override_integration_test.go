package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"bitbucket.org/mmdatafocus/procure_backend/workflow"
	"github.com/shopspring/decimal"
)

// End-to-end: flag an invoice, exercise the override gating, and verify the
// audit trail commits with the decision.
func TestOverrideWorkflow_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "procure_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	enabled := true
	if _, err := models.SeedValidationRuleConfig(ctx, &models.ValidationRuleConfig{
		RuleType: models.RuleTypeMissingInvoiceNumber,
		Name:     "Missing invoice number",
		Enabled:  &enabled,
		Severity: models.SeverityWarning,
	}); err != nil {
		t.Fatalf("SeedValidationRuleConfig: %v", err)
	}

	owner, err := models.CreateUser(ctx, &models.NewUser{
		Username: "owner@local", Name: "Owner", Password: "pw-owner-1",
	})
	if err != nil {
		t.Fatalf("CreateUser(owner): %v", err)
	}
	stranger, err := models.CreateUser(ctx, &models.NewUser{
		Username: "stranger@local", Name: "Stranger", Password: "pw-stranger",
	})
	if err != nil {
		t.Fatalf("CreateUser(stranger): %v", err)
	}
	manager, err := models.CreateUser(ctx, &models.NewUser{
		Username: "manager@local", Name: "Manager", Password: "pw-manager",
		Role: models.UserRoleManager,
	})
	if err != nil {
		t.Fatalf("CreateUser(manager): %v", err)
	}

	vendor, err := models.CreateVendor(ctx, &models.NewVendor{Name: "Acme Supplies"})
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}

	ownerCtx := utils.SetUserIdInContext(ctx, owner.ID)
	invoice, err := models.CreateInvoice(ownerCtx, &models.NewInvoice{
		VendorId:    vendor.ID,
		InvoiceDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Details: []models.NewInvoiceDetail{
			{Name: "Copier paper", DetailQty: decimal.NewFromInt(10), DetailUnitRate: decimal.NewFromInt(35)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	summary, err := workflow.ValidateInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("ValidateInvoice: %v", err)
	}
	if summary.IsValid || summary.FlagCount != 1 {
		t.Fatalf("summary = %+v, want exactly the missing-number flag", summary)
	}
	flag := summary.Validations[0]
	if flag.RuleType != models.RuleTypeMissingInvoiceNumber || flag.Status != models.ValidationStatusFlagged {
		t.Fatalf("unexpected flag row: %+v", flag)
	}

	// Revalidation is idempotent: same inputs, same single open flag.
	summary, err = workflow.ValidateInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("ValidateInvoice(again): %v", err)
	}
	if summary.FlagCount != 1 {
		t.Fatalf("flagCount after revalidate = %d, want 1", summary.FlagCount)
	}
	flag = summary.Validations[len(summary.Validations)-1]

	// A non-owner plain user cannot override.
	_, err = workflow.OverrideValidation(ctx, flag.ID, stranger.ID, "this invoice is fine, checked by phone")
	var unauthorized *utils.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("stranger override: error type = %T, want *utils.UnauthorizedError", err)
	}

	// Too-short reason is rejected before any DB work.
	_, err = workflow.OverrideValidation(ctx, flag.ID, owner.ID, "short")
	var validationErr *utils.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("short reason: error type = %T, want *utils.ValidationError", err)
	}

	// Owner override succeeds.
	overridden, err := workflow.OverrideValidation(ctx, flag.ID, owner.ID, "Vendor confirmed the paper invoice is legitimate")
	if err != nil {
		t.Fatalf("OverrideValidation: %v", err)
	}
	if overridden.Status != models.ValidationStatusOverridden {
		t.Fatalf("status = %s, want OVERRIDDEN", overridden.Status)
	}
	if overridden.ReviewedBy == nil || *overridden.ReviewedBy != owner.ID || overridden.ReviewedAt == nil {
		t.Fatalf("review metadata not set: %+v", overridden)
	}

	// Second override conflicts, even for a manager.
	_, err = workflow.OverrideValidation(ctx, flag.ID, manager.ID, "approving this one a second time")
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second override: error type = %T, want *utils.ConflictError", err)
	}

	overrides, err := models.GetValidationOverrides(ctx, flag.ID)
	if err != nil {
		t.Fatalf("GetValidationOverrides: %v", err)
	}
	if len(overrides) != 1 || overrides[0].UserId != owner.ID {
		t.Fatalf("override records = %+v, want exactly one by the owner", overrides)
	}

	db := config.GetDB()
	var auditCount int64
	if err := db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("action = ? AND entity_id = ?", models.AuditActionValidationOverridden, flag.ID).
		Count(&auditCount).Error; err != nil {
		t.Fatalf("audit count: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("audit rows = %d, want 1", auditCount)
	}

	// The decision event was staged in the same transaction.
	var outboxCount int64
	if err := db.WithContext(ctx).Model(&models.OutboxMessageRecord{}).
		Where("event_type = ? AND reference_id = ?", models.EventTypeValidationOverridden, flag.ID).
		Count(&outboxCount).Error; err != nil {
		t.Fatalf("outbox count: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("outbox rows = %d, want 1", outboxCount)
	}

	// Revalidating after the override raises a fresh open flag; the resolved
	// row is history and stays put.
	summary, err = workflow.ValidateInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("ValidateInvoice(after override): %v", err)
	}
	if summary.FlagCount != 1 {
		t.Fatalf("flagCount = %d, want 1 fresh flag", summary.FlagCount)
	}
	var overriddenRows int
	for _, v := range summary.Validations {
		if v.Status == models.ValidationStatusOverridden {
			overriddenRows++
		}
	}
	if overriddenRows != 1 {
		t.Fatalf("overridden rows = %d, want the resolved row preserved", overriddenRows)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("procure-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("procure-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=procure_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
