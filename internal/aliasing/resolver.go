// Package aliasing normalizes legacy test-plan field spellings (spec.md §9
// Open Question: "should legacy field spellings be normalized at load
// time?" — resolved yes) before a testplan.Item reaches the dispatcher.
// Older test plans spell switch_mode and command values inconsistently
// (e.g. "ComPort" vs "comport", or fold the mode into a separate
// "case_type" parameter instead of switch_mode); Resolver.NormalizeItem
// folds both into the single canonical shape dispatch.resolveCommand
// expects.
package aliasing

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/mfgtest/orchestrator/internal/testplan"
)

type (
	// compiledPattern holds a pre-compiled regex pattern and its canonical template.
	compiledPattern struct {
		regex     *regexp.Regexp
		canonical string
		variables []string
	}

	// Resolver rewrites legacy switch_mode/command spellings to their
	// canonical form using ordered, pattern-based rules. Thread-safe for
	// concurrent use (immutable after construction).
	//
	// Pattern syntax:
	//   - {variable} captures any characters except "/"
	//   - {variable*} captures any characters including "/"
	//   - Literal characters match exactly
	//   - First matching pattern wins (order matters)
	Resolver struct {
		switchModePatterns []compiledPattern
		commandPatterns    []compiledPattern
	}
)

// variableRegex matches {name} or {name*} patterns in the pattern string.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// legacyCaseTypeKey is the parameter key older test plans used instead of
// switch_mode directly.
const legacyCaseTypeKey = "case_type"

// compilePattern converts a pattern string to a compiled regex.
//
// Pattern: "COMPORT" → Regex: ^COMPORT$.
// Pattern: "relay_{channel}" → Regex: ^relay_(?P<channel>[^/]+)$.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	variables := make([]string, 0, 4)

	escaped := regexp.QuoteMeta(pattern)
	result := escaped

	matches := variableRegex.FindAllStringSubmatch(pattern, -1)
	for _, match := range matches {
		fullMatch := match[0]
		varName := match[1]
		isGreedy := strings.HasSuffix(fullMatch, "*}")

		variables = append(variables, varName)

		var captureGroup string
		if isGreedy {
			captureGroup = "(?P<" + varName + ">.+)"
		} else {
			captureGroup = "(?P<" + varName + ">[^/]+)"
		}

		escapedVar := regexp.QuoteMeta(fullMatch)
		result = strings.Replace(result, escapedVar, captureGroup, 1)
	}

	result = "^" + result + "$"

	regex, err := regexp.Compile(result)
	if err != nil {
		return nil, nil, err
	}

	return regex, variables, nil
}

// substituteVariables replaces {var} placeholders in canonical with captured values.
func substituteVariables(canonical string, captures map[string]string) string {
	result := canonical

	for varName, value := range captures {
		result = strings.ReplaceAll(result, "{"+varName+"}", value)
		result = strings.ReplaceAll(result, "{"+varName+"*}", value)
	}

	return result
}

// NewResolver compiles cfg's field-alias rules. A nil or empty config
// produces a resolver without alias rules: NormalizeItem only moves legacy
// case_type values into switch_mode and lowercases switch_mode.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{}

	if cfg == nil {
		return r
	}

	r.switchModePatterns = compileAliases(cfg.SwitchModeAliases)
	r.commandPatterns = compileAliases(cfg.CommandAliases)

	return r
}

func compileAliases(aliases []FieldAlias) []compiledPattern {
	compiled := make([]compiledPattern, 0, len(aliases))

	for _, a := range aliases {
		legacy := strings.TrimSpace(a.Legacy)
		canonical := strings.TrimSpace(a.Canonical)

		if legacy == "" || canonical == "" {
			slog.Warn("aliasing: skipping field alias with empty legacy/canonical value",
				slog.String("legacy", legacy), slog.String("canonical", canonical))

			continue
		}

		regex, variables, err := compilePattern(legacy)
		if err != nil {
			slog.Warn("aliasing: skipping field alias with invalid pattern",
				slog.String("legacy", legacy), slog.String("error", err.Error()))

			continue
		}

		compiled = append(compiled, compiledPattern{regex: regex, canonical: canonical, variables: variables})
	}

	return compiled
}

// resolve applies patterns to value, returning the canonical spelling, or
// value unchanged if nothing matches.
func resolve(patterns []compiledPattern, value string) string {
	if value == "" {
		return value
	}

	for _, cp := range patterns {
		match := cp.regex.FindStringSubmatch(value)
		if match == nil {
			continue
		}

		captures := make(map[string]string, len(cp.variables))

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" && i < len(match) {
				captures[name] = match[i]
			}
		}

		return substituteVariables(cp.canonical, captures)
	}

	return value
}

// NormalizeItem folds a legacy "case_type" parameter into switch_mode when
// switch_mode is unset, then rewrites switch_mode and command through the
// resolver's alias rules and lowercases the resulting switch_mode. Returns a
// copy; the input item is not mutated.
func (r *Resolver) NormalizeItem(item testplan.Item) testplan.Item {
	if r == nil {
		return item
	}

	if item.SwitchMode == "" {
		if legacy, ok := item.Parameters[legacyCaseTypeKey]; ok {
			if s, ok := legacy.(string); ok && s != "" {
				item.SwitchMode = s

				params := make(map[string]any, len(item.Parameters))
				for k, v := range item.Parameters {
					if k == legacyCaseTypeKey {
						continue
					}

					params[k] = v
				}

				item.Parameters = params
			}
		}
	}

	item.SwitchMode = strings.ToLower(resolve(r.switchModePatterns, item.SwitchMode))
	item.Command = resolve(r.commandPatterns, item.Command)

	return item
}
