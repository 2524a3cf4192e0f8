package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextStage(t *testing.T) {
	tests := []struct {
		stage       Stage
		outcome     AttemptOutcome
		hasFallback bool
		want        Stage
	}{
		{StagePrimary, OutcomeAccepted, true, StageSuccess},
		{StagePrimary, OutcomeRejected, true, StageFallback},
		{StagePrimary, OutcomeRejected, false, StageSearch},
		{StagePrimary, OutcomeMarketUnavailable, false, StageSearch},
		{StagePrimary, OutcomeInsufficientFunds, true, StageExhausted},
		{StageFallback, OutcomeRiskExceeded, true, StageSearch},
		{StageFallback, OutcomeAccepted, true, StageSuccess},
		{StageFallback, OutcomeInsufficientFunds, true, StageExhausted},
		{StagePrimary, OutcomeUnconfirmed, true, StageExhausted},
		{StageFallback, OutcomeTransportError, true, StageExhausted},
		{StageSearch, OutcomeRejected, true, StageExhausted},
		{StageSearch, OutcomeNoCandidates, false, StageExhausted},
		{StageSearch, OutcomeAccepted, false, StageSuccess},
		{StageSuccess, OutcomeRejected, true, StageSuccess},
		{StageExhausted, OutcomeAccepted, true, StageExhausted},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%v", tt.stage, tt.outcome, tt.hasFallback), func(t *testing.T) {
			assert.Equal(t, tt.want, NextStage(tt.stage, tt.outcome, tt.hasFallback))
		})
	}
}

func TestNextStage_NeverGoesBackwards(t *testing.T) {
	order := map[Stage]int{StagePrimary: 0, StageFallback: 1, StageSearch: 2, StageSuccess: 3, StageExhausted: 3}
	outcomes := []AttemptOutcome{OutcomeAccepted, OutcomeRejected, OutcomeInsufficientFunds, OutcomeMarketUnavailable, OutcomeSizingAborted, OutcomeRiskExceeded, OutcomeTransportError}
	for stage := range order {
		for _, o := range outcomes {
			for _, fb := range []bool{true, false} {
				next := NextStage(stage, o, fb)
				assert.GreaterOrEqual(t, order[next], order[stage], "%s --%s--> %s", stage, o, next)
			}
		}
	}
}

func TestExecutionReport_LastFailure(t *testing.T) {
	r := ExecutionReport{Trail: []ExecutionAttempt{
		{Stage: StagePrimary, FailureReason: "MARKET_CLOSED", At: time.Now()},
		{Stage: StageFallback, FailureReason: "REJECT_SPREADBET_ORDER_ON_CFD_ACCOUNT"},
		{Stage: StageSearch},
	}}
	assert.Equal(t, "REJECT_SPREADBET_ORDER_ON_CFD_ACCOUNT", r.LastFailure())
	assert.False(t, r.Success())
}

func TestVenueRejection_InsufficientFunds(t *testing.T) {
	funds := &VenueRejection{VenueID: "CS.D.GBPJPY.CFD.IP", Status: "REJECTED", Reason: "INSUFFICIENT_FUNDS"}
	other := &VenueRejection{VenueID: "CS.D.GBPJPY.CFD.IP", Status: "REJECTED", Reason: "MARKET_CLOSED_WITH_EDITS"}

	wrapped := fmt.Errorf("execution.place: %w", funds)
	assert.True(t, IsInsufficientFunds(wrapped))
	assert.True(t, errors.Is(wrapped, ErrVenueRejected))
	assert.False(t, IsInsufficientFunds(other))
	assert.False(t, IsInsufficientFunds(errors.New("boom")))
	assert.Contains(t, other.Error(), "MARKET_CLOSED_WITH_EDITS")
}
