package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"mminte/internal/interaction"
	"mminte/internal/pipeline"
)

// CountTable lists labelled counts, such as interactions per type or diet
// entries applied per model.
type CountTable struct {
	Title   string
	Headers []string
	rows    [][]string
}

// NewCountTable creates a table whose first column holds labels and the
// rest hold counts.
func NewCountTable(title string, headers ...string) *CountTable {
	return &CountTable{Title: title, Headers: headers}
}

// Add appends a label and its counts.
func (t *CountTable) Add(label string, counts ...int) {
	row := []string{label}
	for _, n := range counts {
		row = append(row, strconv.Itoa(n))
	}
	t.rows = append(t.rows, row)
}

// Len is the number of rows added.
func (t *CountTable) Len() int { return len(t.rows) }

// View renders the table with counts right-aligned. An empty table renders
// as "".
func (t *CountTable) View(styles Styles) string {
	if len(t.rows) == 0 {
		return ""
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderStyle(styles.Muted).
		Headers(t.Headers...).
		Rows(t.rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := styles.Body
			if row == table.HeaderRow {
				s = styles.Bold
			}
			if col > 0 {
				s = s.Align(lipgloss.Right)
			}
			return s.Padding(0, 1)
		})

	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title) + "\n")
	}
	sb.WriteString(tbl.Render() + "\n")
	return sb.String()
}

// maxListedErrors caps the skipped tasks printed under a summary.
const maxListedErrors = 10

// Summary renders the outcome of a batch: task counts, the interaction
// counts per type when anything was classified, and the first skipped
// tasks.
func Summary(sum pipeline.Summary, styles Styles) string {
	var sb strings.Builder
	head := fmt.Sprintf("%s run %s", sum.Kind, sum.RunID)
	sb.WriteString(styles.Title.Render(head) + "\n")

	counts := fmt.Sprintf("%d succeeded", sum.Succeeded)
	if sum.Failed > 0 {
		counts += ", " + styles.Error.Render(fmt.Sprintf("%d skipped", sum.Failed))
	}
	sb.WriteString(counts + styles.Muted.Render(fmt.Sprintf(" in %s", sum.Took.Round(time.Millisecond))) + "\n")

	if sum.Tally.Total() > 0 {
		t := NewCountTable("", "Interaction", "Count")
		for _, typ := range interaction.Types() {
			n := sum.Tally.Count(typ)
			if typ == interaction.Undetermined && n == 0 {
				continue
			}
			t.Add(typ.String(), n)
		}
		sb.WriteString("\n" + t.View(styles))
		if n := sum.Tally.Count(interaction.Undetermined); n > 0 {
			sb.WriteString(styles.Warning.Render(fmt.Sprintf("%d undetermined, check their growth rates", n)) + "\n")
		}
	}

	if len(sum.Errors) > 0 {
		sb.WriteString("\n" + styles.Bold.Render("Skipped") + "\n")
		for i, e := range sum.Errors {
			if i == maxListedErrors {
				sb.WriteString(styles.Muted.Render(fmt.Sprintf("  ... and %d more", len(sum.Errors)-i)) + "\n")
				break
			}
			sb.WriteString(fmt.Sprintf("  %s %s: %v\n", e.Stage, e.Subject, e.Err))
		}
	}
	return sb.String()
}
