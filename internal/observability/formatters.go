// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ganainy/job-app-assistant/internal/db"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRunProgress outputs the run's current step and percentage.
func (p *Printer) PrintRunProgress(run *db.WorkflowRun) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:   %s\n", run.Status))
	sb.WriteString(fmt.Sprintf("Step:     %s (%d/%d)\n",
		run.Progress.CurrentStep, run.Progress.CurrentStepIndex+1, run.Progress.TotalSteps))
	sb.WriteString(fmt.Sprintf("Progress: %d%%", run.Progress.Percentage))

	p.printBox("WORKFLOW RUN", sb.String())
}

// PrintSteps outputs every step with its status and message.
func (p *Printer) PrintSteps(run *db.WorkflowRun) {
	if run == nil || len(run.Steps) == 0 {
		return
	}

	var sb strings.Builder
	for i, step := range run.Steps {
		sb.WriteString(fmt.Sprintf("%d. %-18s %s", i, step.Name, stepMark(step.Status)))
		if step.Total > 0 {
			sb.WriteString(fmt.Sprintf("  %d/%d", step.Count, step.Total))
		}
		sb.WriteString("\n")
		if step.Message != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", step.Message))
		}
	}

	p.printBox("STEPS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintStats outputs the run's aggregate counters.
func (p *Printer) PrintStats(stats db.RunStats) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Jobs found:    %d\n", stats.JobsFound))
	sb.WriteString(fmt.Sprintf("New jobs:      %d\n", stats.NewJobs))
	sb.WriteString(fmt.Sprintf("Duplicates:    %d\n", stats.Duplicates))
	sb.WriteString(fmt.Sprintf("Analyzed:      %d\n", stats.Analyzed))
	sb.WriteString(fmt.Sprintf("Relevant:      %d\n", stats.Relevant))
	sb.WriteString(fmt.Sprintf("Not relevant:  %d\n", stats.NotRelevant))
	sb.WriteString(fmt.Sprintf("Errors:        %d", stats.Errors))

	p.printBox("RUN STATS", sb.String())
}

// PrintOutcome outputs the final state of a finished run.
func (p *Printer) PrintOutcome(run *db.WorkflowRun) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:  %s\n", run.Status))
	if run.ErrorMessage != nil {
		sb.WriteString(fmt.Sprintf("Error:   %s\n", *run.ErrorMessage))
	}
	if run.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("Took:    %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second)))
	}
	sb.WriteString(fmt.Sprintf("Relevant jobs: %d", run.Stats.Relevant))

	p.printBox("RUN FINISHED", sb.String())
}

func stepMark(status db.StepStatus) string {
	switch status {
	case db.StepStatusCompleted:
		return "done"
	case db.StepStatusRunning:
		return "running"
	case db.StepStatusFailed:
		return "FAILED"
	default:
		return "pending"
	}
}
