package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenericChannel drives the ComPort/TCPIP/Console/SSH family: execute a
// user-supplied command string, honoring \n/\r escapes, return the raw
// response, optionally sliced by keyword extraction (spec.md §4.B table
// last row).
type GenericChannel struct {
	Exchanger Exchanger
	Simulated bool
}

func NewGenericChannel(ex Exchanger, simulated bool) *GenericChannel {
	return &GenericChannel{Exchanger: ex, Simulated: simulated}
}

func (g *GenericChannel) Initialize(context.Context) error { return nil }
func (g *GenericChannel) Reset(context.Context) error      { return nil }

func (g *GenericChannel) Schema(command string) (Schema, bool) {
	switch command {
	case "ComPort", "TCPIP", "Console", "SSH":
		return Schema{
			Required: []string{"command"},
			Optional: []string{"keyword", "split_count", "split_length"},
			Example:  map[string]any{"command": "AT+VERSION\\n", "keyword": "VER:"},
		}, true
	default:
		return Schema{}, false
	}
}

func (g *GenericChannel) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := g.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	raw, err := paramString(params, "command")
	if err != nil {
		return "", err
	}

	cmd := unescapeLineEndings(raw)

	var resp string

	if g.Simulated {
		resp = "SIMULATED-OK"
	} else {
		resp, err = g.Exchanger.Query(ctx, cmd, 10*time.Second)
		if err != nil {
			return "", err
		}
	}

	keyword := paramStringOr(params, "keyword", "")
	if keyword == "" {
		return resp, nil
	}

	return extractKeyword(resp, keyword, params)
}

func unescapeLineEndings(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\r`, "\r")

	return s
}

// extractKeyword locates keyword in resp, joins the first split_count
// whitespace-delimited tokens after it with single spaces, and truncates
// the joined string to split_length characters (spec.md §4.B: "keyword, split_count, split_length slices a
// substring out of the response").
func extractKeyword(resp, keyword string, params map[string]any) (string, error) {
	idx := strings.Index(resp, keyword)
	if idx < 0 {
		return "", fmt.Errorf("driver: keyword %q not found in response %q", keyword, resp)
	}

	tail := strings.TrimSpace(resp[idx+len(keyword):])

	splitCount := 1
	if raw, ok := params["split_count"]; ok {
		if n, err := toInt(raw); err == nil {
			splitCount = n
		}
	}

	fields := strings.Fields(tail)
	if splitCount > len(fields) {
		splitCount = len(fields)
	}

	out := strings.Join(fields[:splitCount], " ")

	if raw, ok := params["split_length"]; ok {
		if n, err := toInt(raw); err == nil && n >= 0 && n < len(out) {
			out = out[:n]
		}
	}

	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("driver: cannot convert %T to int", v)
	}
}
