package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 4000

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Error lists the failures by field so ValidationErrors can travel as an
// error value.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v[f]
	}
	return strings.Join(parts, "; ")
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func ValidateStartChat(strategyID, creatorID int64) ValidationErrors {
	errs := make(ValidationErrors)

	if strategyID <= 0 {
		errs.Add("strategy_id", "Strategy ID is required")
	}
	if creatorID <= 0 {
		errs.Add("creator_id", "Creator ID is required")
	}

	return errs
}

func ValidateMessage(content string) ValidationErrors {
	errs := make(ValidationErrors)

	content = strings.TrimSpace(content)
	if content == "" {
		errs.Add("content", "Message content is required")
	} else if utf8.RuneCountInString(content) > MaxMessageLength {
		errs.Add("content", fmt.Sprintf("Message must be at most %d characters", MaxMessageLength))
	}

	return errs
}
