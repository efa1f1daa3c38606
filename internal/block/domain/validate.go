package domain

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// Code identifies one failed validation check. Values are stable strings so
// callers can map them to user-facing messages.
type Code string

const (
	CodeBlockURLEmpty     Code = "blockurl_empty"
	CodeBlockURLASCII     Code = "blockurl_ascii"
	CodeBlockURLLowercase Code = "blockurl_lowercase"
	CodeRedirectInvalid   Code = "redirect_invalid"
	CodeInvalidDays       Code = "invalid_days"
	CodeInvalidTimeFormat Code = "invalid_time_format"
	CodeStartAfterEnd     Code = "start_after_end"
	CodeCategoryRequired  Code = "category_required"
	CodeCategoryInvalid   Code = "category_invalid"
)

var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ValidationResult carries every failed check, not just the first, so the
// caller can surface all problems at once.
type ValidationResult struct {
	IsValid bool
	Errors  []Code
}

// ValidateRule checks a candidate rule's fields and accumulates all
// applicable error codes. It never mutates its input.
func ValidateRule(blockURL, redirectURL string, schedule *Schedule, category Category) ValidationResult {
	var errs []Code

	trimmed := strings.TrimSpace(blockURL)
	if trimmed == "" {
		errs = append(errs, CodeBlockURLEmpty)
	}
	if trimmed != "" && !isASCII(trimmed) {
		errs = append(errs, CodeBlockURLASCII)
	}
	if trimmed != "" && !isLowercase(trimmed) {
		errs = append(errs, CodeBlockURLLowercase)
	}

	if redirectURL != "" && !isAbsoluteURL(redirectURL) {
		errs = append(errs, CodeRedirectInvalid)
	}

	if schedule != nil {
		if !validDays(schedule.Days) {
			errs = append(errs, CodeInvalidDays)
		}
		startOK := timeOfDayRe.MatchString(schedule.StartTime)
		endOK := timeOfDayRe.MatchString(schedule.EndTime)
		if !startOK || !endOK {
			errs = append(errs, CodeInvalidTimeFormat)
		}
		if startOK && endOK && minutesOfDay(schedule.StartTime) >= minutesOfDay(schedule.EndTime) {
			errs = append(errs, CodeStartAfterEnd)
		}
	}

	if category == "" {
		errs = append(errs, CodeCategoryRequired)
	} else if !category.IsValid() {
		errs = append(errs, CodeCategoryInvalid)
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func isLowercase(s string) bool {
	return s == strings.ToLower(s)
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && u.Scheme != "" && u.Host != ""
}

func validDays(days []int) bool {
	if len(days) == 0 {
		return false
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return false
		}
	}
	return true
}
