package canonicalization

import "testing"

func TestNormalizeInstrumentID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already lowercase", input: "psu1", want: "psu1"},
		{name: "uppercase", input: "PSU1", want: "psu1"},
		{name: "mixed case", input: "Psu1", want: "psu1"},
		{name: "leading/trailing whitespace", input: "  psu1  ", want: "psu1"},
		{name: "uppercase with whitespace", input: " PSU1 ", want: "psu1"},
		{name: "empty string", input: "", want: ""},
		{name: "hyphenated model name", input: "Keithley-2015", want: "keithley-2015"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeInstrumentID(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeInstrumentID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeInstrumentIDIsIdempotent(t *testing.T) {
	ids := []string{"PSU1", "daq_2", " Keithley-2015 "}

	for _, id := range ids {
		once := NormalizeInstrumentID(id)
		twice := NormalizeInstrumentID(once)

		if once != twice {
			t.Errorf("NormalizeInstrumentID not idempotent for %q: %q != %q", id, once, twice)
		}
	}
}
