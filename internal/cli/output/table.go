package output

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

const (
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiBold   = "\x1b[1m"
	ansiReset  = "\x1b[0m"
)

// TableFormatter renders human-readable tables and error blocks for the
// terminal. Rows carrying a blocked or critical verdict are tinted when
// stdout is a TTY and colors are enabled.
type TableFormatter struct {
	NoColor   bool // Disable ANSI colors
	Unicode   bool // Use Unicode box-drawing characters
	Condensed bool // Simplified output for non-TTY
}

// Format falls back to indented JSON; commands that want real tables go
// through FormatTable with explicit headers.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	return (&JSONFormatter{Indent: true}).Format(data)
}

// FormatError renders a structured error with its guidance, recovery
// hint, and context fields.
func (f *TableFormatter) FormatError(serr StructuredError) (string, error) {
	var b strings.Builder

	if f.Condensed || !f.isTTY() {
		fmt.Fprintf(&b, "Error: %s\n", serr.Message)
	} else {
		header := fmt.Sprintf("Error [%s]", serr.Code)
		rule := strings.Repeat(f.ruleChar(), len(header))
		b.WriteString(f.paint(ansiBold+ansiRed, rule+"\n"+header+"\n"+rule))
		b.WriteByte('\n')
		b.WriteString(serr.Message)
		b.WriteByte('\n')
	}

	if serr.Guidance != "" {
		fmt.Fprintf(&b, "  Guidance: %s\n", serr.Guidance)
	}
	if serr.RecoveryCommand != "" {
		fmt.Fprintf(&b, "  Try: %s\n", serr.RecoveryCommand)
	}
	if len(serr.Context) > 0 {
		keys := make([]string, 0, len(serr.Context))
		for key := range serr.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", key, serr.Context[key])
		}
	}

	return b.String(), nil
}

// FormatTable renders tabular data with aligned columns and underlined
// headers.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat(f.ruleChar(), len(h))
	}
	fmt.Fprintln(w, strings.Join(underline, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	if f.NoColor || !f.isTTY() {
		return buf.String(), nil
	}

	// Tint whole lines after alignment so the escape codes do not count
	// against the column widths.
	lines := strings.Split(buf.String(), "\n")
	for i, row := range rows {
		lineIdx := i + 2
		if lineIdx >= len(lines) {
			break
		}
		if tint := rowTint(row); tint != "" {
			lines[lineIdx] = tint + lines[lineIdx] + ansiReset
		}
	}
	return strings.Join(lines, "\n"), nil
}

// rowTint picks a color for verdict-bearing rows.
func rowTint(row []string) string {
	for _, cell := range row {
		switch strings.ToLower(cell) {
		case "blocked", "unsafe", "quarantined", "critical":
			return ansiRed
		case "flagged", "high":
			return ansiYellow
		}
	}
	return ""
}

func (f *TableFormatter) paint(code, s string) string {
	if f.NoColor {
		return s
	}
	return code + s + ansiReset
}

func (f *TableFormatter) ruleChar() string {
	if f.Unicode {
		return "─"
	}
	return "-"
}

// isTTY checks if stdout is a terminal.
func (f *TableFormatter) isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
