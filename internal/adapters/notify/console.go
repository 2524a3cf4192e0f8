// Package notify presenta en consola el registro de auditoría de cada señal.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
	"github.com/olekukonko/tablewriter"
)

var _ ports.Notifier = (*Console)(nil)

// Console implementa ports.Notifier.
type Console struct {
	out     io.Writer
	table   bool // imprime el rastro de intentos como tabla
	verbose bool // muestra también los mensajes sin intención
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table, verbose bool) *Console {
	return &Console{out: os.Stdout, table: table, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table, verbose bool) *Console {
	return &Console{out: w, table: table, verbose: verbose}
}

// NotifyOutcome imprime una línea por señal y, en modo tabla, el rastro.
func (c *Console) NotifyOutcome(_ context.Context, o domain.Outcome) error {
	if o.Skipped() && !c.verbose {
		return nil
	}
	fmt.Fprintln(c.out, c.line(o))
	if c.table && len(o.Trail) > 0 {
		c.printTrail(o.Trail)
	}
	return nil
}

// line resume el Outcome en una línea.
func (c *Console) line(o domain.Outcome) string {
	at := o.ProcessedAt
	if at.IsZero() {
		at = time.Now()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-2s %s", at.Local().Format("15:04:05"), statusIcon(o.Status), o.SignalType)
	if o.Instrument != "" {
		fmt.Fprintf(&sb, " %s", o.Instrument)
	}
	if o.Direction != "" {
		fmt.Fprintf(&sb, " %s", o.Direction)
	}
	if o.Size > 0 {
		fmt.Fprintf(&sb, " x%v", o.Size)
	}
	if o.VenueID != "" {
		fmt.Fprintf(&sb, " @ %s", o.VenueID)
	}
	if o.Message != "" {
		fmt.Fprintf(&sb, " | %s", o.Message)
	}
	if len(o.Trail) > 1 {
		fmt.Fprintf(&sb, " (%d attempts)", len(o.Trail))
	}
	return sb.String()
}

// printTrail imprime los intentos de la cascada en orden.
func (c *Console) printTrail(trail []domain.ExecutionAttempt) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Stage", "Venue", "Outcome", "Size", "Risk", "Reason")
	for i, a := range trail {
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(a.Stage),
			a.VenueID,
			string(a.Outcome),
			sizeLabel(a.Size),
			riskLabel(a.RealizedRisk),
			truncate(a.FailureReason, 60),
		)
	}
	table.Render()
}

// --- helpers ---

func statusIcon(s domain.OutcomeStatus) string {
	switch s {
	case domain.StatusSuccess:
		return "OK"
	case domain.StatusError:
		return "x"
	default:
		return "~"
	}
}

func sizeLabel(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%v", v)
}

func riskLabel(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
