package limits_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgtest/orchestrator/internal/limits"
	"github.com/mfgtest/orchestrator/internal/testplan"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func TestEvaluateTableDriven(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		item    testplan.Item
		want    limits.Verdict
		wantErr bool
	}{
		{
			name: "none always passes",
			raw:  "anything",
			item: testplan.Item{ValueType: testplan.ValueString, LimitType: testplan.LimitNone},
			want: limits.Pass,
		},
		{
			name: "lower pass at boundary",
			raw:  "5.0",
			item: testplan.Item{ValueType: testplan.ValueFloat, LimitType: testplan.LimitLower, LowerLimit: f(5.0)},
			want: limits.Pass,
		},
		{
			name: "lower fail below boundary",
			raw:  "4.999",
			item: testplan.Item{ValueType: testplan.ValueFloat, LimitType: testplan.LimitLower, LowerLimit: f(5.0)},
			want: limits.Fail,
		},
		{
			name: "upper pass at boundary",
			raw:  "10",
			item: testplan.Item{ValueType: testplan.ValueInteger, LimitType: testplan.LimitUpper, UpperLimit: f(10)},
			want: limits.Pass,
		},
		{
			name: "both pass inside range",
			raw:  "3.3",
			item: testplan.Item{ValueType: testplan.ValueFloat, LimitType: testplan.LimitBoth, LowerLimit: f(3.0), UpperLimit: f(3.6)},
			want: limits.Pass,
		},
		{
			name: "both fail outside range",
			raw:  "3.9",
			item: testplan.Item{ValueType: testplan.ValueFloat, LimitType: testplan.LimitBoth, LowerLimit: f(3.0), UpperLimit: f(3.6)},
			want: limits.Fail,
		},
		{
			name: "equality pass numeric",
			raw:  "42",
			item: testplan.Item{ValueType: testplan.ValueInteger, LimitType: testplan.LimitEquality, EqLimit: s("42")},
			want: limits.Pass,
		},
		{
			name: "equality fail string",
			raw:  "PASS",
			item: testplan.Item{ValueType: testplan.ValueString, LimitType: testplan.LimitEquality, EqLimit: s("FAIL")},
			want: limits.Fail,
		},
		{
			name: "inequality pass",
			raw:  "PASS",
			item: testplan.Item{ValueType: testplan.ValueString, LimitType: testplan.LimitInequality, EqLimit: s("FAIL")},
			want: limits.Pass,
		},
		{
			name: "partial pass substring",
			raw:  "firmware v2.1.3-rc",
			item: testplan.Item{ValueType: testplan.ValueString, LimitType: testplan.LimitPartial, EqLimit: s("v2.1")},
			want: limits.Pass,
		},
		{
			name: "partial fail no substring",
			raw:  "firmware v2.1.3-rc",
			item: testplan.Item{ValueType: testplan.ValueString, LimitType: testplan.LimitPartial, EqLimit: s("v3")},
			want: limits.Fail,
		},
		{
			name:    "non integral integer is a parse error",
			raw:     "3.14",
			item:    testplan.Item{ValueType: testplan.ValueInteger, LimitType: testplan.LimitNone},
			wantErr: true,
		},
		{
			name:    "garbage float is a parse error",
			raw:     "not-a-number",
			item:    testplan.Item{ValueType: testplan.ValueFloat, LimitType: testplan.LimitNone},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, got, err := limits.Evaluate(tc.raw, tc.item)

			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateStringTrimsTrailingCRLFOnly(t *testing.T) {
	t.Parallel()

	value, verdict, err := limits.Evaluate("  padded  \r\n", testplan.Item{
		ValueType: testplan.ValueString,
		LimitType: testplan.LimitEquality,
		EqLimit:   s("  padded  "),
	})
	require.NoError(t, err)
	assert.Equal(t, limits.Pass, verdict)
	assert.Equal(t, "  padded  ", value)
}

func TestEvaluatePartialRequiresStringValueType(t *testing.T) {
	t.Parallel()

	_, _, err := limits.Evaluate("42", testplan.Item{
		ValueType: testplan.ValueInteger,
		LimitType: testplan.LimitPartial,
		EqLimit:   s("4"),
	})
	require.Error(t, err)
}
