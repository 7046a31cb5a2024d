package model

import "time"

// EvidenceInput is one linked evidence record as seen by the signal
// calculators: its rigor-relevant fields plus the active consent record for
// the consent gate to evaluate. Raw findings text is never loaded here.
type EvidenceInput struct {
	EvidenceID   string
	Type         EvidenceType
	SampleSize   *int
	OutcomeLinks int
	Consent      *ConsentRecord
	UpdatedAt    time.Time
}

// SignalInputs is the read snapshot one recompute works from. It is
// assembled once per intervention so the five calculators see the same
// generation of data; a mismatch between FetchedAt and a later re-read of
// UpdatedAt surfaces as a StaleInput error.
type SignalInputs struct {
	Intervention Intervention
	Consent      *ConsentRecord

	Evidence             []EvidenceInput
	OutcomeCount         int
	DistinctOutcomeTypes int

	FetchedAt time.Time
}

// VisibleEvidence returns the evidence rows whose consent permits the given
// action for the caller at time now, applying the same gate rules the
// consent package enforces: an effective record that permits the action, or
// an internal read while review is pending.
//
// The closure parameter is the gate's decision function; keeping it a
// parameter keeps this package free of a consent dependency.
func (in *SignalInputs) VisibleEvidence(allowed func(rec *ConsentRecord) bool) []EvidenceInput {
	out := make([]EvidenceInput, 0, len(in.Evidence))
	for _, ev := range in.Evidence {
		if allowed(ev.Consent) {
			out = append(out, ev)
		}
	}
	return out
}
