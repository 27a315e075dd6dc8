// revalidate-invoices reruns the validation rules over existing invoices,
// e.g. after thresholds change. By default it walks every non-deleted
// invoice that is not yet APPROVED/PAID/VOID; pass invoice ids as args to
// limit the run.
//
// Usage (from backend directory):
//   DB_USER=... DB_HOST=... go run ./cmd/revalidate-invoices [invoiceId ...]
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/workflow"
)

func targetInvoiceIds(ctx context.Context, args []string) ([]int, error) {
	if len(args) > 0 {
		ids := make([]int, 0, len(args))
		for _, arg := range args {
			id, err := strconv.Atoi(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid invoice id %q", arg)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("current_status IN ?", []models.InvoiceStatus{models.InvoiceStatusDraft, models.InvoiceStatusSubmitted}).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	workflow.InitValidationConfig()

	ids, err := targetInvoiceIds(ctx, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("No invoices to revalidate.")
		return
	}

	var failed int
	for _, id := range ids {
		summary, err := workflow.ValidateInvoice(ctx, id)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "invoice %d: %v\n", id, err)
			continue
		}
		fmt.Printf("invoice %d: flags=%d valid=%t\n", id, summary.FlagCount, summary.IsValid)
	}
	fmt.Printf("Done. revalidated=%d failed=%d\n", len(ids)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
