package handlers

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/saga"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	failStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)
)

func isInteractiveTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func paint(styled bool, s lipgloss.Style, text string) string {
	if !styled {
		return text
	}
	return s.Render(text)
}

// renderResult describes a finished execution.
func renderResult(app, id string, r saga.Result, styled bool) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(paint(styled, titleStyle, fmt.Sprintf("  appinit %s: %s", r.Workflow, app)))
	b.WriteString("\n")
	b.WriteString(paint(styled, dimStyle, "  "+strings.Repeat("─", 40)))
	b.WriteString("\n")

	status := resultSummary(r)
	switch {
	case r.Succeeded():
		status = paint(styled, okStyle, status)
	case r.Outcome != nil && r.Outcome.Kind == saga.CleanupFailed:
		status = paint(styled, failStyle, status)
	default:
		status = paint(styled, warnStyle, status)
	}
	fmt.Fprintf(&b, "    Result:     %s\n", status)
	fmt.Fprintf(&b, "    Execution:  %s\n", id)

	if r.Err != nil {
		fmt.Fprintf(&b, "    Error:      %s\n", r.Err.Error())
	}
	if r.Outcome != nil && r.Outcome.CleanupErr != nil {
		fmt.Fprintf(&b, "    Cleanup:    %s\n", r.Outcome.CleanupErr.Error())
		b.WriteString("\n")
		b.WriteString(paint(styled, failStyle,
			fmt.Sprintf("  Resources of %s may remain. Remove them with 'appinit destroy %s'.", app, app)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// resultSummary is the one-word result of an execution.
func resultSummary(r saga.Result) string {
	switch {
	case r.Outcome != nil:
		return string(r.Outcome.Kind)
	case r.Err != nil:
		return "Failed (" + string(r.Err.Kind) + ")"
	default:
		return "Succeeded"
	}
}

// executionSummary decodes the stored result of a finished execution.
func executionSummary(exec durable.Execution) string {
	if exec.Status != durable.StatusFinished {
		return "-"
	}
	var r saga.Result
	if err := json.Unmarshal(exec.Result, &r); err != nil {
		return "unreadable result"
	}
	return resultSummary(r)
}

// renderExecutions lists executions as a table, or as tab separated lines
// when styled is false.
func renderExecutions(execs []durable.Execution, styled bool) string {
	headers := []string{"ID", "WORKFLOW", "APP", "STATUS", "STATE", "RESULT", "UPDATED"}
	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		state := e.State
		if state == "" {
			state = "-"
		}
		rows = append(rows, []string{
			e.ID, e.Workflow, e.Key, string(e.Status), state,
			executionSummary(e), e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	if !styled {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteString("\n")
		for _, r := range rows {
			b.WriteString(strings.Join(r, "\t"))
			b.WriteString("\n")
		}
		return b.String()
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String() + "\n"
}

// renderExecution describes one execution in detail.
func renderExecution(exec durable.Execution, styled bool) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(paint(styled, titleStyle, fmt.Sprintf("  %s: %s", exec.Workflow, exec.Key)))
	b.WriteString("\n")
	b.WriteString(paint(styled, dimStyle, "  "+strings.Repeat("─", 40)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "    Execution:  %s\n", exec.ID)
	fmt.Fprintf(&b, "    Status:     %s\n", exec.Status)
	if exec.State != "" {
		fmt.Fprintf(&b, "    State:      %s\n", exec.State)
	}
	fmt.Fprintf(&b, "    Created:    %s\n", exec.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "    Updated:    %s\n", exec.UpdatedAt.UTC().Format(time.RFC3339))

	if exec.Status == durable.StatusFinished {
		var r saga.Result
		if err := json.Unmarshal(exec.Result, &r); err == nil {
			fmt.Fprintf(&b, "    Result:     %s\n", resultSummary(r))
			if r.Err != nil {
				fmt.Fprintf(&b, "    Error:      %s\n", r.Err.Error())
			}
			if r.Outcome != nil && r.Outcome.CleanupErr != nil {
				fmt.Fprintf(&b, "    Cleanup:    %s\n", r.Outcome.CleanupErr.Error())
			}
		}
	} else {
		b.WriteString(paint(styled, dimStyle, fmt.Sprintf("    Continue with 'appinit resume %s'.", exec.ID)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
