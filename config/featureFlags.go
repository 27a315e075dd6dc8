package config

import (
	"os"
	"strings"
)

// AppendOnlyRevalidate restores the historical behavior where re-running
// invoice validation appends a fresh set of flags without clearing the open
// ones from earlier runs. The default is idempotent revalidation: open
// FLAGGED rows are replaced in the same transaction that writes the new
// batch; resolved rows are never touched either way.
//
// Set via env:
// - VALIDATION_APPEND_ONLY_REVALIDATE=true
func AppendOnlyRevalidate() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("VALIDATION_APPEND_ONLY_REVALIDATE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
