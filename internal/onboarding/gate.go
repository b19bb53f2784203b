package onboarding

import (
	"context"
	"errors"
	"fmt"

	"laborflow/onboarding-service/internal/catalog"
)

// Gate decides whether a proposed transition's evidence satisfies the target
// stage's requirement. It is side-effect-free: it reads the supplied
// evidence, the assignment's stored documents and (when configured) the
// document store, and either passes or names the missing items.
type Gate struct {
	docs DocumentStore // nil disables reference resolution
}

// NewGate returns a Gate. docs may be nil, in which case supplied references
// are trusted without resolution.
func NewGate(docs DocumentStore) *Gate {
	return &Gate{docs: docs}
}

// offerDetailFields lists the offer-letter terms that must be present before
// OFFER_LETTER_SIGN may be attempted at all. This is a pre-condition on
// entering the stage, separate from the signed-letter document that
// completes it.
var offerDetailFields = []struct {
	name string
	get  func(*OfferLetterDetails) string
}{
	{"workingHours", func(d *OfferLetterDetails) string { return d.WorkingHours }},
	{"workingDays", func(d *OfferLetterDetails) string { return d.WorkingDays }},
	{"leaveSalary", func(d *OfferLetterDetails) string { return d.LeaveSalary }},
	{"endOfService", func(d *OfferLetterDetails) string { return d.EndOfService }},
	{"probationPeriod", func(d *OfferLetterDetails) string { return d.ProbationPeriod }},
}

// Check validates evidence for one (stage, outcome) against the assignment.
// It returns nil on pass, a *TransitionError with CodeMissingEvidence naming
// the gaps, or a *TransitionError with CodeEvidenceStoreUnavailable when the
// document store cannot be reached.
func (g *Gate) Check(ctx context.Context, def catalog.StageDefinition, outcome catalog.Outcome, ev Evidence, asg *Assignment) error {
	var missing []string

	switch def.Stage {
	case catalog.StageOfferLetterSign:
		missing = append(missing, g.missingOfferDetails(asg)...)
	case catalog.StageTravelConfirmation:
		// CANCELED and TRAVELED need nothing beyond notes; RESCHEDULED
		// needs a fresh ticket and the new date.
		if outcome == catalog.OutcomeRescheduled {
			if ev.Document(catalog.DocFlightTicket) == "" {
				missing = append(missing, string(catalog.DocFlightTicket))
			}
			if ev.TravelDate == nil {
				missing = append(missing, "travelDate")
			}
		}
	}

	effect, permitted := def.Outcomes[outcome]
	if permitted && effect == catalog.EffectAdvance {
		if def.RequiredDoc != "" && !g.hasDocument(def.RequiredDoc, ev, asg) {
			missing = append(missing, string(def.RequiredDoc))
		}
		if def.RequiresTravelDate && ev.TravelDate == nil && (asg == nil || asg.TravelDate == nil) {
			missing = append(missing, "travelDate")
		}
	}

	if len(missing) > 0 {
		return &TransitionError{
			Code:    CodeMissingEvidence,
			Msg:     fmt.Sprintf("stage %s requires evidence that was not supplied", def.Stage),
			Missing: missing,
		}
	}

	return g.resolveRefs(ctx, ev)
}

func (g *Gate) missingOfferDetails(asg *Assignment) []string {
	var missing []string
	for _, f := range offerDetailFields {
		if asg == nil || asg.OfferDetails == nil || f.get(asg.OfferDetails) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// hasDocument is satisfied by a reference supplied with the request or one
// already stored on the assignment.
func (g *Gate) hasDocument(kind catalog.DocKind, ev Evidence, asg *Assignment) bool {
	if ev.Document(kind) != "" {
		return true
	}
	return asg != nil && asg.Documents[kind] != ""
}

// resolveRefs confirms every supplied reference resolves in the document
// store. A dangling reference is MISSING_EVIDENCE; a store failure is
// EVIDENCE_STORE_UNAVAILABLE so callers never mistake an outage for absent
// evidence.
func (g *Gate) resolveRefs(ctx context.Context, ev Evidence) error {
	if g.docs == nil {
		return nil
	}
	for _, d := range ev.Documents {
		if _, err := g.docs.Stat(ctx, d.Ref); err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				return &TransitionError{
					Code:    CodeMissingEvidence,
					Msg:     fmt.Sprintf("document reference %q does not resolve", d.Ref),
					Missing: []string{string(d.Kind)},
				}
			}
			return &TransitionError{
				Code: CodeEvidenceStoreUnavailable,
				Msg:  fmt.Sprintf("document store: %v", err),
			}
		}
	}
	return nil
}
