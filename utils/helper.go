package utils

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

func UniqueSlice[T comparable](s []T) []T {
	seen := make(map[T]bool, len(s))
	out := make([]T, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizePhone formats a phone number to E.164. Numbers without a country
// code are parsed against defaultRegion (e.g. "MM"). Blank input passes
// through untouched.
func NormalizePhone(raw string, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if defaultRegion == "" {
		defaultRegion = "MM"
	}
	num, err := libphonenumber.Parse(raw, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
