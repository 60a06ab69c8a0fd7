// Package answer normalizes and validates user-supplied answers to
// missing-information questions.
package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/runweave/runweave/internal/plan"
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern  = regexp.MustCompile(`^\d{2}:\d{2}$`)
	listSplitter = regexp.MustCompile(`[,;\s]+`)

	valueValidator = validator.New()
)

// Result reports the outcome of validating one answer set. Errors collects
// every invalid key so the caller can surface all problems at once.
type Result struct {
	OK         bool
	Errors     map[string]string
	Normalized map[string]any
}

// Validate checks the supplied answers against their questions and returns
// normalized values for every accepted key.
func Validate(questions []plan.Question, answers map[string]any) Result {
	result := Result{
		OK:         true,
		Errors:     make(map[string]string),
		Normalized: make(map[string]any),
	}

	for _, q := range questions {
		raw, present := answers[q.Key]
		if !present || isEmpty(raw) {
			if q.Required {
				result.Errors[q.Key] = "answer is required"
				result.OK = false
			}
			continue
		}

		normalized, err := normalize(q, raw)
		if err != nil {
			result.Errors[q.Key] = err.Error()
			result.OK = false
			continue
		}
		result.Normalized[q.Key] = normalized
	}

	return result
}

func normalize(q plan.Question, raw any) (any, error) {
	switch q.Type {
	case plan.QuestionText, plan.QuestionTextarea:
		return normalizeText(q, raw)
	case plan.QuestionEmail:
		return normalizeEmail(raw)
	case plan.QuestionEmailList:
		return normalizeEmailList(raw)
	case plan.QuestionDateTime:
		return normalizeDateTime(raw)
	case plan.QuestionDate:
		return normalizeDate(raw)
	case plan.QuestionTime:
		return normalizeTime(raw)
	case plan.QuestionNumber:
		return normalizeNumber(q, raw)
	case plan.QuestionSelect:
		return normalizeSelect(q, raw)
	case plan.QuestionMultiSelect:
		return normalizeMultiSelect(q, raw)
	case plan.QuestionBoolean:
		return normalizeBoolean(raw)
	default:
		return nil, fmt.Errorf("unknown question type %q", q.Type)
	}
}

func normalizeText(q plan.Question, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected text")
	}
	if q.Format != "" {
		pattern, err := regexp.Compile(q.Format)
		if err != nil {
			return "", fmt.Errorf("question has invalid format pattern")
		}
		if !pattern.MatchString(s) {
			return "", fmt.Errorf("does not match required format")
		}
	}
	return s, nil
}

func normalizeEmail(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected an email address")
	}
	s = strings.TrimSpace(s)
	if err := valueValidator.Var(s, "email"); err != nil {
		return "", fmt.Errorf("invalid email address")
	}
	return strings.ToLower(s), nil
}

func normalizeEmailList(raw any) ([]string, error) {
	var parts []string
	switch value := raw.(type) {
	case string:
		parts = listSplitter.Split(strings.TrimSpace(value), -1)
	case []any:
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of email addresses")
			}
			parts = append(parts, s)
		}
	case []string:
		parts = value
	default:
		return nil, fmt.Errorf("expected a list of email addresses")
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := valueValidator.Var(part, "email"); err != nil {
			return nil, fmt.Errorf("invalid email address %q", part)
		}
		out = append(out, strings.ToLower(part))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one email address is required")
	}
	return out, nil
}

// normalizeDateTime requires ISO-8601 and re-serializes to canonical RFC 3339.
func normalizeDateTime(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected an ISO-8601 datetime")
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("must be an ISO-8601 datetime")
	}
	return parsed.Format(time.RFC3339), nil
}

func normalizeDate(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected a date")
	}
	s = strings.TrimSpace(s)
	if !datePattern.MatchString(s) {
		return "", fmt.Errorf("must match YYYY-MM-DD")
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", fmt.Errorf("not a valid calendar date")
	}
	return s, nil
}

func normalizeTime(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected a time")
	}
	s = strings.TrimSpace(s)
	if !timePattern.MatchString(s) {
		return "", fmt.Errorf("must match HH:MM")
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return "", fmt.Errorf("not a valid time of day")
	}
	return s, nil
}

func normalizeNumber(q plan.Question, raw any) (float64, error) {
	var n float64
	switch value := raw.(type) {
	case float64:
		n = value
	case int:
		n = float64(value)
	case int64:
		n = float64(value)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		n = parsed
	default:
		return 0, fmt.Errorf("must be a number")
	}

	if q.Min != nil && n < *q.Min {
		return 0, fmt.Errorf("must be at least %v", *q.Min)
	}
	if q.Max != nil && n > *q.Max {
		return 0, fmt.Errorf("must be at most %v", *q.Max)
	}
	return n, nil
}

// normalizeSelect matches case-insensitively and returns the option with its
// declared casing.
func normalizeSelect(q plan.Question, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected one of the declared options")
	}
	for _, option := range q.Options {
		if strings.EqualFold(strings.TrimSpace(s), option) {
			return option, nil
		}
	}
	return "", fmt.Errorf("%q is not one of the declared options", s)
}

func normalizeMultiSelect(q plan.Question, raw any) ([]string, error) {
	var parts []string
	switch value := raw.(type) {
	case string:
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	case []any:
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of declared options")
			}
			parts = append(parts, s)
		}
	case []string:
		parts = value
	default:
		return nil, fmt.Errorf("expected a list of declared options")
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		matched, err := normalizeSelect(q, part)
		if err != nil {
			return nil, err
		}
		out = append(out, matched)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one option is required")
	}
	return out, nil
}

func normalizeBoolean(raw any) (bool, error) {
	switch value := raw.(type) {
	case bool:
		return value, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(value)))
		if err != nil {
			return false, fmt.Errorf("must be true or false")
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("must be true or false")
	}
}

func isEmpty(raw any) bool {
	switch value := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	case []any:
		return len(value) == 0
	case []string:
		return len(value) == 0
	default:
		return false
	}
}
