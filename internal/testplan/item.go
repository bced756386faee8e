// Package testplan models a station's ordered test sequence: the items that
// make it up, their value and limit semantics, and the session-scoped map
// built from them for iteration and cross-item lookup.
package testplan

import "errors"

type (
	// ValueType is the declared type a measurement handler's raw response
	// is parsed into before limit evaluation.
	ValueType string

	// LimitType selects which rule the limit evaluator applies to a parsed
	// value.
	LimitType string

	// Item is one row of a test plan (spec.md §3.1 TestPlanItem).
	Item struct {
		ItemNo     int
		ItemName   string
		ItemKey    string
		Command    string
		SwitchMode string
		Parameters map[string]any

		ValueType ValueType
		LimitType LimitType

		LowerLimit *float64
		UpperLimit *float64
		EqLimit    *string // compared against the parsed value in its own type

		Unit    string
		Enabled bool

		TimeoutMs *int
		WaitMs    *int

		// UseResult, when set, names another item's ItemKey whose measured
		// value substitutes into this item's parameters under a
		// command-defined key before execution.
		UseResult string
	}
)

const (
	ValueInteger ValueType = "integer"
	ValueFloat   ValueType = "float"
	ValueString  ValueType = "string"
)

const (
	LimitNone       LimitType = "none"
	LimitLower      LimitType = "lower"
	LimitUpper      LimitType = "upper"
	LimitBoth       LimitType = "both"
	LimitEquality   LimitType = "equality"
	LimitPartial    LimitType = "partial"
	LimitInequality LimitType = "inequality"
)

// Errors returned by Validate.
var (
	ErrLowerLimitRequired = errors.New("testplan: limit_type requires lower_limit")
	ErrUpperLimitRequired = errors.New("testplan: limit_type requires upper_limit")
	ErrEqLimitRequired    = errors.New("testplan: limit_type requires eq_limit")
	ErrUnknownValueType   = errors.New("testplan: unknown value_type")
	ErrUnknownLimitType   = errors.New("testplan: unknown limit_type")
)

// Validate checks the per-item invariants from spec.md §3.1: limit_type
// implies the limit fields it needs, and value_type/limit_type are
// recognized values.
func (i Item) Validate() error {
	switch i.ValueType {
	case ValueInteger, ValueFloat, ValueString:
	default:
		return ErrUnknownValueType
	}

	switch i.LimitType {
	case LimitNone:
	case LimitLower:
		if i.LowerLimit == nil {
			return ErrLowerLimitRequired
		}
	case LimitUpper:
		if i.UpperLimit == nil {
			return ErrUpperLimitRequired
		}
	case LimitBoth:
		if i.LowerLimit == nil {
			return ErrLowerLimitRequired
		}

		if i.UpperLimit == nil {
			return ErrUpperLimitRequired
		}
	case LimitEquality, LimitPartial, LimitInequality:
		if i.EqLimit == nil {
			return ErrEqLimitRequired
		}
	default:
		return ErrUnknownLimitType
	}

	return nil
}
