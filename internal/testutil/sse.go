package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// DoneSentinel is the literal data payload terminating a chat stream.
const DoneSentinel = "[DONE]"

// ParseSSEData parses a data-only SSE stream into its event payloads.
//
// The chat stream emits bare "data: <payload>" events separated by
// blank lines, with no event: field. Multiple data lines within one
// event are joined with newline per the SSE format; comment lines
// starting with ":" are ignored.
//
// Example:
//
//	payloads := testutil.ParseSSEData(t, responseBody)
//	require.Equal(t, testutil.DoneSentinel, payloads[len(payloads)-1])
func ParseSSEData(t *testing.T, body string) []string {
	t.Helper()

	var payloads []string
	var dataLines []string
	lineNum := 0

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))

		case line == "":
			if len(dataLines) > 0 {
				payloads = append(payloads, strings.Join(dataLines, "\n"))
				dataLines = nil
			}

		case strings.HasPrefix(line, ":"):
			// comment, ignore

		default:
			t.Fatalf("SSE parse error at line %d: unexpected line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("SSE scan error: %v", err)
	}

	if len(dataLines) > 0 {
		t.Fatalf("SSE stream ended without terminating blank line after %q", dataLines[0])
	}

	return payloads
}
