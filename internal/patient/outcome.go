package patient

import "log/slog"

// Tier classifies a rejection. The distinction drives the accounting
// invariant: error-tier records never produced a Patient, skip-tier records
// produced one and were then excluded by a business rule.
type Tier string

const (
	// TierError marks records that failed structural or field validation.
	TierError Tier = "error"
	// TierSkip marks validated patients excluded by a business rule.
	TierSkip Tier = "skip"
)

// Rejection reason codes.
const (
	ReasonFieldCountMismatch = "field-count-mismatch"
	ReasonMissingSurname     = "missing-surname"
	ReasonMissingDateOfBirth = "missing-date-of-birth"
	ReasonInvalidDateOfBirth = "invalid-date-of-birth"
	ReasonAgeOverLimit       = "age-over-limit"
	ReasonStaleDateOfDeath   = "stale-date-of-death"
	ReasonExcludedCaseNumber = "excluded-case-number"
)

// Rejection describes why a record was not converted. PatientID always holds
// the best identifier available so every rejection is traceable.
type Rejection struct {
	Tier      Tier
	Reason    string
	Detail    string
	PatientID string
}

// Note is a data-quality observation raised during validation that does not
// reject the record. The caller forwards notes to the telemetry sink.
type Note struct {
	Level   slog.Level
	Message string
}

// Outcome is the result of validating one record: exactly one of Patient or
// Rejection is set. Quality notes may accompany either.
type Outcome struct {
	Patient   *Patient
	Rejection *Rejection
	Notes     []Note
}

// Accepted reports whether the record produced a validated patient.
func (o Outcome) Accepted() bool { return o.Patient != nil }
