package engine

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"
)

// validateRecurrence checks RRULE syntax only; expansion into concrete
// occurrences is explicitly out of scope (spec.md Non-goals). An empty rule
// is always valid. Stored rules carry their "RRULE:" prefix verbatim (see
// provider.firstRRule/encodeICSEvent), but rrule-go's StrToRRule parses only
// the bare FREQ=...;... body, so the prefix is stripped before parsing.
func validateRecurrence(rule string) error {
	if rule == "" {
		return nil
	}
	body := strings.TrimPrefix(rule, "RRULE:")
	if _, err := rrule.StrToRRule(body); err != nil {
		return fmt.Errorf("invalid recurrence rule: %w", err)
	}
	return nil
}
