package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/taskara/internal/task"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

var statusStyles = map[task.Status]lipgloss.Style{
	task.StatusCreated:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	task.StatusAssigned:   lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	task.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	task.StatusSuccess:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	task.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	task.StatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true),
}

// styleStatus renders a status for a terminal. lipgloss drops the colors
// when the output is not a TTY.
func styleStatus(s task.Status) string {
	if st, ok := statusStyles[s]; ok {
		return st.Render(string(s))
	}
	return string(s)
}

func checkFormat(format string) error {
	switch format {
	case formatTable, formatYAML, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, yaml or json)", format)
}

// writeStructured writes v as YAML or JSON.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
