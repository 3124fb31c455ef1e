package patient

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/schema"
)

// MaxAge is the upper bound on a living patient's age. Older records with no
// recorded death are excluded as implausible.
const MaxAge = 112

// MaxDeathAgeYears is how far in the past a date of death may lie before the
// record is excluded as stale.
const MaxDeathAgeYears = 2

// Validator turns raw mapped fields into validated Patient entities.
// Validation is deterministic for a fixed clock: the same input always
// produces the same outcome category.
type Validator struct {
	authority string
	excluded  map[string]struct{}

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewValidator builds a Validator from patient settings.
func NewValidator(cfg config.Patient) *Validator {
	excluded := make(map[string]struct{}, len(cfg.ExcludedCaseNumbers))
	for _, n := range cfg.ExcludedCaseNumbers {
		excluded[n] = struct{}{}
	}
	return &Validator{
		authority: cfg.AssigningAuthority,
		excluded:  excluded,
		now:       time.Now,
	}
}

// WithClock overrides the validator's clock. Test hook.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate applies field rules and business rules to one mapped record.
// Every call yields exactly one outcome: an accepted Patient, or a rejection
// at the error or skip tier.
func (v *Validator) Validate(f schema.Fields) Outcome {
	var notes []Note
	now := v.now()

	id := clampField(f.InternalPatientNumber, maxInternalNumberLen)
	if id == "" {
		id = "UNK" + now.Format("20060102150405")
		notes = append(notes, Note{
			Level:   slog.LevelInfo,
			Message: fmt.Sprintf("generated placeholder internal patient number %s", id),
		})
	}

	// Hard rules first: these rejections never construct a Patient.
	surname := clampField(f.Surname, maxSurnameLen)
	if surname == "" {
		return Outcome{
			Rejection: &Rejection{Tier: TierError, Reason: ReasonMissingSurname, PatientID: id},
			Notes:     notes,
		}
	}

	dob, err := parseDate(f.DateOfBirth)
	if err != nil {
		return Outcome{
			Rejection: &Rejection{
				Tier:      TierError,
				Reason:    ReasonInvalidDateOfBirth,
				Detail:    err.Error(),
				PatientID: id,
			},
			Notes: notes,
		}
	}
	if dob == "" {
		return Outcome{
			Rejection: &Rejection{Tier: TierError, Reason: ReasonMissingDateOfBirth, PatientID: id},
			Notes:     notes,
		}
	}

	caseNumber := f.HospitalCaseNumber
	if len(caseNumber) > maxCaseNumberLen {
		notes = append(notes, Note{
			Level: slog.LevelError,
			Message: fmt.Sprintf("patient %s: hospital case number %s over %d chars - notify data quality team",
				id, caseNumber, maxCaseNumberLen),
		})
	}
	caseNumber = clampField(caseNumber, maxCaseNumberLen)

	nhsNumber := clampNHSNumber(f.NHSNumber, id, &notes)

	dod, err := parseDate(f.DateOfDeath)
	if err != nil {
		notes = append(notes, Note{
			Level:   slog.LevelError,
			Message: fmt.Sprintf("patient %s: invalid date of death %q - notify data quality team", id, f.DateOfDeath),
		})
		dod = ""
	}

	homePhone, bad := cleanPhone(f.HomePhone)
	if bad {
		notes = append(notes, Note{
			Level:   slog.LevelWarn,
			Message: fmt.Sprintf("patient %s: home phone %q has no digits, dropped", id, f.HomePhone),
		})
	}
	mobilePhone, bad := cleanPhone(f.MobilePhone)
	if bad {
		notes = append(notes, Note{
			Level:   slog.LevelWarn,
			Message: fmt.Sprintf("patient %s: mobile phone %q has no digits, dropped", id, f.MobilePhone),
		})
	}

	p := &Patient{
		InternalPatientNumber: id,
		AssigningAuthority:    v.authority,
		HospitalCaseNumber:    caseNumber,
		NHSNumber:             nhsNumber,
		NHSVerificationStatus: clampField(f.NHSVerificationStatus, maxVerificationLen),
		Surname:               surname,
		Forename:              clampField(f.Forename, maxForenameLen),
		DateOfBirth:           dob,
		Sex:                   mapSex(f.Sex),
		PatientTitle:          clampField(f.PatientTitle, maxTitleLen),
		Address:               formatAddress(f.AddressLines),
		Postcode:              strings.ToUpper(clampField(f.Postcode, maxPostcodeLen)),
		DeathIndicator:        parseDeathIndicator(f.DeathIndicator),
		DateOfDeath:           dod,
		RegisteredGPCode:      clampField(f.RegisteredGPCode, maxGPCodeLen),
		EthnicCode:            clampField(f.EthnicCode, maxEthnicCodeLen),
		HomePhone:             homePhone,
		WorkPhone:             "", // source values unreliable, always blank
		MobilePhone:           mobilePhone,
		RegisteredGP:          clampField(f.RegisteredGP, maxGPNameLen),
		RegisteredPractice:    clampField(f.RegisteredPractice, maxPracticeLen),
	}

	v.reconcileDeath(p, &notes)

	// Business rules run on the constructed entity; exclusions here are
	// skips, not errors.
	if rej := v.businessRules(p, now); rej != nil {
		return Outcome{Rejection: rej, Notes: notes}
	}

	return Outcome{Patient: p, Notes: notes}
}

// reconcileDeath enforces consistency between the death indicator and date
// of death, auto-correcting and flagging rather than rejecting.
func (v *Validator) reconcileDeath(p *Patient, notes *[]Note) {
	if p.DateOfDeath != "" && p.DateOfDeath < p.DateOfBirth {
		*notes = append(*notes, Note{
			Level: slog.LevelError,
			Message: fmt.Sprintf("patient %s: date of death %s earlier than date of birth %s, reset",
				p.InternalPatientNumber, p.DateOfDeath, p.DateOfBirth),
		})
		p.DateOfDeath = ""
	}
	if p.DeathIndicator == "N" && p.DateOfDeath != "" {
		*notes = append(*notes, Note{
			Level: slog.LevelWarn,
			Message: fmt.Sprintf("patient %s: death indicator N but date of death %s recorded, corrected to Y",
				p.InternalPatientNumber, p.DateOfDeath),
		})
		p.DeathIndicator = "Y"
	}
	if p.DeathIndicator == "Y" && p.DateOfDeath == "" {
		*notes = append(*notes, Note{
			Level: slog.LevelWarn,
			Message: fmt.Sprintf("patient %s: death indicator Y but no date of death recorded",
				p.InternalPatientNumber),
		})
	}
}

func (v *Validator) businessRules(p *Patient, now time.Time) *Rejection {
	if p.DateOfDeath == "" {
		if a := age(p.DateOfBirth, now); a > MaxAge {
			return &Rejection{
				Tier:      TierSkip,
				Reason:    ReasonAgeOverLimit,
				Detail:    fmt.Sprintf("no date of death and age %d exceeds %d", a, MaxAge),
				PatientID: p.InternalPatientNumber,
			}
		}
	}
	if p.DeathIndicator == "Y" && p.DateOfDeath != "" {
		if a := age(p.DateOfDeath, now); a > MaxDeathAgeYears {
			return &Rejection{
				Tier:      TierSkip,
				Reason:    ReasonStaleDateOfDeath,
				Detail:    fmt.Sprintf("date of death %s more than %d years ago", p.DateOfDeath, MaxDeathAgeYears),
				PatientID: p.InternalPatientNumber,
			}
		}
	}
	if _, ok := v.excluded[p.HospitalCaseNumber]; ok && p.HospitalCaseNumber != "" {
		return &Rejection{
			Tier:      TierSkip,
			Reason:    ReasonExcludedCaseNumber,
			Detail:    fmt.Sprintf("hospital case number %s is in the exclusion list", p.HospitalCaseNumber),
			PatientID: p.InternalPatientNumber,
		}
	}
	return nil
}

// clampNHSNumber validates and truncates the NHS number, flagging
// non-numeric or over-length values for the data quality team.
func clampNHSNumber(raw, patientID string, notes *[]Note) string {
	value := clampFieldNoTruncate(raw)
	if value == "" {
		return ""
	}
	if !allDigits(value) {
		*notes = append(*notes, Note{
			Level: slog.LevelError,
			Message: fmt.Sprintf("patient %s: NHS number %s contains non-numeric characters - notify data quality team",
				patientID, value),
		})
	}
	if len(value) > maxNHSNumberLen {
		*notes = append(*notes, Note{
			Level: slog.LevelError,
			Message: fmt.Sprintf("patient %s: NHS number %s over %d chars - notify data quality team",
				patientID, value, maxNHSNumberLen),
		})
		value = value[:maxNHSNumberLen]
	}
	return value
}

func clampFieldNoTruncate(value string) string {
	value = strings.TrimSpace(value)
	if value == "NULL" {
		return ""
	}
	return value
}
