// Package catalog defines the fixed onboarding pipeline for labour profiles.
//
// Stage order:
//
//	OFFER_LETTER_SIGN ──► VISA_APPLYING ──► QVC_PAYMENT ──► CONTRACT_SIGN ──►
//	MEDICAL_STATUS ──► FINGERPRINT ──► VISA_PRINTING ──► READY_TO_TRAVEL ──►
//	TRAVEL_CONFIRMATION ──► ARRIVAL_CONFIRMATION ──► DEPLOYED
//
// DEPLOYED is terminal. Stages never run backwards and never skip; a stage
// with a failing outcome (REFUSE, UNFIT, FAIL, CANCELED) stays where it is
// until the agency opens a fresh attempt.
package catalog

import "fmt"

// Stage values mirror the onboarding_stage enum in PostgreSQL.
type Stage string

const (
	StageOfferLetterSign     Stage = "OFFER_LETTER_SIGN"
	StageVisaApplying        Stage = "VISA_APPLYING"
	StageQVCPayment          Stage = "QVC_PAYMENT"
	StageContractSign        Stage = "CONTRACT_SIGN"
	StageMedicalStatus       Stage = "MEDICAL_STATUS"
	StageFingerprint         Stage = "FINGERPRINT"
	StageVisaPrinting        Stage = "VISA_PRINTING"
	StageReadyToTravel       Stage = "READY_TO_TRAVEL"
	StageTravelConfirmation  Stage = "TRAVEL_CONFIRMATION"
	StageArrivalConfirmation Stage = "ARRIVAL_CONFIRMATION"
	StageDeployed            Stage = "DEPLOYED"
)

// Outcome is the result asserted when closing out a stage attempt.
type Outcome string

const (
	OutcomeCompleted   Outcome = "COMPLETED"
	OutcomeApprove     Outcome = "APPROVE"
	OutcomeRefuse      Outcome = "REFUSE"
	OutcomeFit         Outcome = "FIT"
	OutcomeUnfit       Outcome = "UNFIT"
	OutcomePass        Outcome = "PASS"
	OutcomeFail        Outcome = "FAIL"
	OutcomeTraveled    Outcome = "TRAVELED"
	OutcomeRescheduled Outcome = "RESCHEDULED"
	OutcomeCanceled    Outcome = "CANCELED"
)

// Effect describes what an outcome does to the pipeline position.
type Effect int

const (
	// EffectAdvance moves the profile to the next stage.
	EffectAdvance Effect = iota
	// EffectFailInPlace records a FAILED attempt; the stage does not move.
	EffectFailInPlace
	// EffectRetryInPlace closes the attempt as COMPLETED and immediately
	// opens a new PENDING attempt at the same stage (travel reschedule).
	EffectRetryInPlace
)

// DocKind identifies a placement document owned by an assignment.
type DocKind string

const (
	DocSignedOfferLetter  DocKind = "SIGNED_OFFER_LETTER"
	DocVisa               DocKind = "VISA"
	DocFlightTicket       DocKind = "FLIGHT_TICKET"
	DocMedicalCertificate DocKind = "MEDICAL_CERTIFICATE"
	DocPoliceClearance    DocKind = "POLICE_CLEARANCE"
	DocEmploymentContract DocKind = "EMPLOYMENT_CONTRACT"
	DocAdditional         DocKind = "ADDITIONAL"
)

// StageDefinition is the static catalog entry for one stage.
type StageDefinition struct {
	Stage       Stage
	DisplayName string

	// RequiredDoc is the document that must be supplied (or already stored
	// on the assignment) before an advancing outcome is accepted. Empty
	// means the stage is closed by assertion alone.
	RequiredDoc DocKind

	// RequiresTravelDate marks stages whose completion needs a travel date
	// on the assignment (or supplied with the request).
	RequiresTravelDate bool

	// Outcomes maps each permitted outcome to its effect.
	Outcomes map[Outcome]Effect
}

// ordered is the canonical pipeline order.
var ordered = []Stage{
	StageOfferLetterSign,
	StageVisaApplying,
	StageQVCPayment,
	StageContractSign,
	StageMedicalStatus,
	StageFingerprint,
	StageVisaPrinting,
	StageReadyToTravel,
	StageTravelConfirmation,
	StageArrivalConfirmation,
	StageDeployed,
}

var definitions = map[Stage]StageDefinition{
	StageOfferLetterSign: {
		Stage:       StageOfferLetterSign,
		DisplayName: "Offer Letter Signing",
		RequiredDoc: DocSignedOfferLetter,
		Outcomes:    map[Outcome]Effect{OutcomeCompleted: EffectAdvance},
	},
	StageVisaApplying: {
		Stage:       StageVisaApplying,
		DisplayName: "Visa Application",
		RequiredDoc: DocVisa,
		Outcomes:    map[Outcome]Effect{OutcomeCompleted: EffectAdvance},
	},
	StageQVCPayment: {
		Stage:       StageQVCPayment,
		DisplayName: "QVC Payment",
		Outcomes:    map[Outcome]Effect{OutcomeCompleted: EffectAdvance},
	},
	StageContractSign: {
		Stage:       StageContractSign,
		DisplayName: "Contract Signing",
		RequiredDoc: DocEmploymentContract,
		Outcomes: map[Outcome]Effect{
			OutcomeApprove: EffectAdvance,
			OutcomeRefuse:  EffectFailInPlace,
		},
	},
	StageMedicalStatus: {
		Stage:       StageMedicalStatus,
		DisplayName: "Medical Examination",
		Outcomes: map[Outcome]Effect{
			OutcomeFit:   EffectAdvance,
			OutcomeUnfit: EffectFailInPlace,
		},
	},
	StageFingerprint: {
		Stage:       StageFingerprint,
		DisplayName: "Fingerprint",
		Outcomes: map[Outcome]Effect{
			OutcomePass: EffectAdvance,
			OutcomeFail: EffectFailInPlace,
		},
	},
	StageVisaPrinting: {
		Stage:       StageVisaPrinting,
		DisplayName: "Visa Printing",
		Outcomes:    map[Outcome]Effect{OutcomeCompleted: EffectAdvance},
	},
	StageReadyToTravel: {
		Stage:              StageReadyToTravel,
		DisplayName:        "Ready To Travel",
		RequiredDoc:        DocFlightTicket,
		RequiresTravelDate: true,
		Outcomes:           map[Outcome]Effect{OutcomeCompleted: EffectAdvance},
	},
	StageTravelConfirmation: {
		Stage:       StageTravelConfirmation,
		DisplayName: "Travel Confirmation",
		Outcomes: map[Outcome]Effect{
			OutcomeTraveled:    EffectAdvance,
			OutcomeRescheduled: EffectRetryInPlace,
			OutcomeCanceled:    EffectFailInPlace,
		},
	},
	StageArrivalConfirmation: {
		Stage:       StageArrivalConfirmation,
		DisplayName: "Arrival Confirmation",
		Outcomes:    map[Outcome]Effect{OutcomeCompleted: EffectAdvance},
	},
	StageDeployed: {
		Stage:       StageDeployed,
		DisplayName: "Deployed",
		// Terminal — no outcomes, no outgoing transitions.
		Outcomes: map[Outcome]Effect{},
	},
}

var ordinals = func() map[Stage]int {
	m := make(map[Stage]int, len(ordered))
	for i, s := range ordered {
		m[s] = i
	}
	return m
}()

// First returns the pipeline's entry stage.
func First() Stage { return ordered[0] }

// Stages returns the canonical pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(ordered))
	copy(out, ordered)
	return out
}

// ParseStage converts a raw string to a Stage, returning an error for
// unknown values.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := ordinals[st]; !ok {
		return "", fmt.Errorf("unknown onboarding stage %q", s)
	}
	return st, nil
}

// ParseOutcome converts a raw string to an Outcome, returning an error for
// unknown values.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	switch o {
	case OutcomeCompleted, OutcomeApprove, OutcomeRefuse, OutcomeFit,
		OutcomeUnfit, OutcomePass, OutcomeFail, OutcomeTraveled,
		OutcomeRescheduled, OutcomeCanceled:
		return o, nil
	}
	return "", fmt.Errorf("unknown stage outcome %q", s)
}

// DefinitionFor returns the catalog entry for stage. The second return is
// false for stages outside the catalog (programmer error, not user input).
func DefinitionFor(stage Stage) (StageDefinition, bool) {
	def, ok := definitions[stage]
	return def, ok
}

// Ordinal returns stage's zero-based position in the pipeline, or -1 for an
// unknown stage.
func Ordinal(stage Stage) int {
	i, ok := ordinals[stage]
	if !ok {
		return -1
	}
	return i
}

// Next returns the stage after stage. The second return is false when stage
// is terminal (or unknown).
func Next(stage Stage) (Stage, bool) {
	i, ok := ordinals[stage]
	if !ok || i == len(ordered)-1 {
		return "", false
	}
	return ordered[i+1], true
}

// IsTerminal returns true for the pipeline's final stage.
func IsTerminal(stage Stage) bool { return stage == StageDeployed }
