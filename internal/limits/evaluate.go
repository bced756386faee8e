// Package limits applies value-type coercion and a limit-type rule to a raw
// measurement string, producing PASS or FAIL (spec.md §4.E).
package limits

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mfgtest/orchestrator/internal/testplan"
)

// ErrParse is returned when the raw value cannot be coerced to the item's
// declared value_type.
var ErrParse = errors.New("limits: value does not parse as declared value_type")

// Verdict is the evaluator's PASS/FAIL decision (terminal ERROR/SKIP/ABORT
// results are assigned upstream by the dispatcher and session engine, not
// here).
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

// Coerce parses raw per item.ValueType, applying the pre-coercion rules in
// spec.md §4.E: integers are base-10 and must be integral, floats accept
// scientific notation, strings are trimmed of trailing CR/LF only.
func Coerce(raw string, valueType testplan.ValueType) (any, error) {
	switch valueType {
	case testplan.ValueInteger:
		trimmed := strings.TrimSpace(raw)

		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as integer: %w", ErrParse, raw, err)
		}

		return n, nil

	case testplan.ValueFloat:
		trimmed := strings.TrimSpace(raw)

		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as float: %w", ErrParse, raw, err)
		}

		return f, nil

	case testplan.ValueString:
		return strings.TrimRight(raw, "\r\n"), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrParse, valueType)
	}
}

// Evaluate coerces raw per item.ValueType then applies item.LimitType's rule
// against item's limit fields, returning the coerced value alongside the
// verdict so the caller can render TestResult.MeasuredValue from the same
// parse.
func Evaluate(raw string, item testplan.Item) (any, Verdict, error) {
	value, err := Coerce(raw, item.ValueType)
	if err != nil {
		return nil, "", err
	}

	switch item.LimitType {
	case testplan.LimitNone:
		return value, Pass, nil

	case testplan.LimitLower:
		return value, boolVerdict(numeric(value) >= *item.LowerLimit), nil

	case testplan.LimitUpper:
		return value, boolVerdict(numeric(value) <= *item.UpperLimit), nil

	case testplan.LimitBoth:
		n := numeric(value)
		return value, boolVerdict(n >= *item.LowerLimit && n <= *item.UpperLimit), nil

	case testplan.LimitEquality:
		eq, err := equalsLimit(value, item)
		if err != nil {
			return nil, "", err
		}

		return value, boolVerdict(eq), nil

	case testplan.LimitInequality:
		eq, err := equalsLimit(value, item)
		if err != nil {
			return nil, "", err
		}

		return value, boolVerdict(!eq), nil

	case testplan.LimitPartial:
		if item.ValueType != testplan.ValueString {
			return nil, "", fmt.Errorf("limits: limit_type partial requires value_type string, got %s", item.ValueType)
		}

		s, _ := value.(string)

		return value, boolVerdict(strings.Contains(s, *item.EqLimit)), nil

	default:
		return nil, "", fmt.Errorf("limits: unknown limit_type %s", item.LimitType)
	}
}

func boolVerdict(ok bool) Verdict {
	if ok {
		return Pass
	}

	return Fail
}

// numeric widens an integer or float coerced value to float64 for
// comparison against the (always numeric) lower_limit/upper_limit fields.
func numeric(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// equalsLimit compares value against item.EqLimit typed per item.ValueType:
// numeric comparison for integer/float, exact string comparison otherwise.
func equalsLimit(value any, item testplan.Item) (bool, error) {
	if item.EqLimit == nil {
		return false, fmt.Errorf("limits: eq_limit required for limit_type %s", item.LimitType)
	}

	switch item.ValueType {
	case testplan.ValueInteger, testplan.ValueFloat:
		limit, err := strconv.ParseFloat(strings.TrimSpace(*item.EqLimit), 64)
		if err != nil {
			return false, fmt.Errorf("%w: eq_limit %q: %w", ErrParse, *item.EqLimit, err)
		}

		return numeric(value) == limit, nil

	default:
		s, _ := value.(string)
		return s == *item.EqLimit, nil
	}
}
