package strategy

import (
	"fmt"
	"time"
)

// SignalType is the discrete decision of one tick.
type SignalType string

const (
	BuyDrop        SignalType = "BUY_DROP"
	BuyForce       SignalType = "BUY_FORCE"
	Wait           SignalType = "WAIT"
	SkipPrice      SignalType = "SKIP_PRICE"
	SkipNoQuote    SignalType = "SKIP_NO_QUOTE"
	SkipNoContract SignalType = "SKIP_NO_CONTRACT"
	SkipFired      SignalType = "SKIP_FIRED"
	SkipCutoff     SignalType = "SKIP_CUTOFF"
)

func (t SignalType) IsBuy() bool { return t == BuyDrop || t == BuyForce }

// Reason is the machine-readable cause of a signal.
type Reason string

const (
	ReasonBeforePhases       Reason = "before_phases"
	ReasonResonanceBuilding  Reason = "resonance_building"
	ReasonDurationBuilding   Reason = "duration_building"
	ReasonGroundTruthMissing Reason = "ground_truth_missing"
	ReasonGroundTruthNoVote  Reason = "ground_truth_not_voting"
	ReasonGuardLocked        Reason = "guard_locked"
	ReasonNoPrediction       Reason = "no_prediction"
	ReasonDropConfirmed      Reason = "drop_confirmed"
	ReasonForceCutoff        Reason = "force_cutoff"
	ReasonAskBelowFloor      Reason = "ask_below_floor"
	ReasonQuoteUnavailable   Reason = "quote_unavailable"
	ReasonContractUnmatched  Reason = "contract_unmatched"
	ReasonAlreadyFired       Reason = "already_fired"
	ReasonForceWindowClosed  Reason = "force_window_closed"
)

// Signal is the decision emitted for one tick.
type Signal struct {
	Type   SignalType
	Reason Reason
	Detail string
	Time   time.Time

	Phase     int
	Resonance int
	Duration  int

	Contract  Contract
	Ask       float64
	Predicted int64
}

func (s Signal) String() string {
	if s.Contract.Label != "" {
		return fmt.Sprintf("%s [%s] %s (%s ask=%.3f)", s.Type, s.Reason, s.Detail, s.Contract.Label, s.Ask)
	}
	return fmt.Sprintf("%s [%s] %s", s.Type, s.Reason, s.Detail)
}
