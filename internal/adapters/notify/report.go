package notify

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// PrintHistory imprime el diario de señales de un periodo con un resumen final.
func (c *Console) PrintHistory(outs []domain.Outcome, from, to time.Time) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                      SIGNAL JOURNAL                          ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")
	fmt.Fprintf(c.out, "  Period: %s → %s\n\n", from.Local().Format("2006-01-02 15:04"), to.Local().Format("2006-01-02 15:04"))

	if len(outs) == 0 {
		fmt.Fprintln(c.out, "  (no signals)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "St", "Type", "Instrument", "Venue", "Size", "Risk", "Tries", "Message")

	var ok, failed, info int
	var risk float64
	fallbacks := 0
	for _, o := range outs {
		switch o.Status {
		case domain.StatusSuccess:
			ok++
			if o.SignalType == domain.SignalOpen {
				risk += o.RealizedRisk
			}
		case domain.StatusError:
			failed++
		default:
			info++
		}
		if len(o.Trail) > 1 {
			fallbacks++
		}
		table.Append(
			o.ProcessedAt.Local().Format("01-02 15:04"),
			statusIcon(o.Status),
			string(o.SignalType),
			o.Instrument,
			o.VenueID,
			sizeLabel(o.Size),
			riskLabel(o.RealizedRisk),
			fmt.Sprintf("%d", len(o.Trail)),
			truncate(o.Message, 50),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "\n  Signals:     %d (ok %d | error %d | info %d)\n", len(outs), ok, failed, info)
	fmt.Fprintf(c.out, "  Multi-venue: %d signals needed more than one attempt\n", fallbacks)
	fmt.Fprintf(c.out, "  Risk opened: %.2f\n\n", risk)
}
