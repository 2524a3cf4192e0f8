package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/adapters/notify"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeOutcome(status domain.OutcomeStatus, trail ...domain.ExecutionAttempt) domain.Outcome {
	return domain.Outcome{
		SignalID:     "sig-1",
		Status:       status,
		SignalType:   domain.SignalOpen,
		Instrument:   "GOLD",
		VenueID:      "CS.D.CFEGOLD.CFE.IP",
		Direction:    domain.Buy,
		Size:         0.5,
		RealizedRisk: 94.8,
		Message:      "BUY 0.5 GOLD @ CS.D.CFEGOLD.CFE.IP, risk 94.80",
		Trail:        trail,
		ProcessedAt:  time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestConsole_NotifyOutcome_CompactLine(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false, false)

	require.NoError(t, n.NotifyOutcome(context.Background(), makeOutcome(domain.StatusSuccess)))

	out := buf.String()
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "POSITION_OPEN GOLD BUY x0.5")
	assert.Contains(t, out, "risk 94.80")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsole_NotifyOutcome_TableShowsTrail(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true, false)

	o := makeOutcome(domain.StatusSuccess,
		domain.ExecutionAttempt{Stage: domain.StagePrimary, VenueID: "CS.D.CFDGOLD.CFDGC.IP", Outcome: domain.OutcomeSizingAborted, FailureReason: "margin above cap"},
		domain.ExecutionAttempt{Stage: domain.StageFallback, VenueID: "CS.D.CFEGOLD.CFE.IP", Outcome: domain.OutcomeAccepted, Size: 0.5, RealizedRisk: 94.8},
	)
	require.NoError(t, n.NotifyOutcome(context.Background(), o))

	out := buf.String()
	assert.Contains(t, out, "(2 attempts)")
	assert.Contains(t, out, "SIZING_ABORTED")
	assert.Contains(t, out, "FALLBACK")
	assert.Contains(t, out, "margin above cap")
	assert.Contains(t, out, "94.80")
}

func TestConsole_NotifyOutcome_SkippedIsSilent(t *testing.T) {
	skipped := domain.Outcome{Status: domain.StatusInfo, SignalType: domain.SignalUnknown, Message: "no intent"}

	var quiet bytes.Buffer
	require.NoError(t, notify.NewConsoleWriter(&quiet, true, false).NotifyOutcome(context.Background(), skipped))
	assert.Empty(t, quiet.String())

	var verbose bytes.Buffer
	require.NoError(t, notify.NewConsoleWriter(&verbose, true, true).NotifyOutcome(context.Background(), skipped))
	assert.Contains(t, verbose.String(), "UNKNOWN")
}

func TestConsole_NotifyOutcome_ErrorIcon(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false, false)

	o := makeOutcome(domain.StatusError)
	o.Message = "venue rejected"
	require.NoError(t, n.NotifyOutcome(context.Background(), o))
	assert.Contains(t, buf.String(), " x ")
}

func TestConsole_PrintHistory(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true, false)

	a := domain.ExecutionAttempt{Stage: domain.StagePrimary, Outcome: domain.OutcomeRejected}
	outs := []domain.Outcome{
		makeOutcome(domain.StatusSuccess, a, a),
		makeOutcome(domain.StatusError),
	}
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	n.PrintHistory(outs, from, from.Add(24*time.Hour))

	out := buf.String()
	assert.Contains(t, out, "SIGNAL JOURNAL")
	assert.Contains(t, out, "Signals:     2 (ok 1 | error 1 | info 0)")
	assert.Contains(t, out, "Multi-venue: 1")
	assert.Contains(t, out, "Risk opened: 94.80")
}

func TestConsole_PrintHistory_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf, false, false).PrintHistory(nil, time.Now().Add(-time.Hour), time.Now())
	assert.Contains(t, buf.String(), "(no signals)")
}
