package patient_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/patient"
	"github.com/openpas/csv2hl7/internal/schema"
)

// fixedNow keeps validation deterministic across test runs.
var fixedNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newValidator(t *testing.T, excluded ...string) *patient.Validator {
	t.Helper()
	v := patient.NewValidator(config.Patient{
		AssigningAuthority:  "RX1",
		ExcludedCaseNumbers: excluded,
	})
	return v.WithClock(func() time.Time { return fixedNow })
}

func goodFields() schema.Fields {
	return schema.Fields{
		InternalPatientNumber: "12345",
		HospitalCaseNumber:    "C001",
		NHSNumber:             "9434765919",
		NHSVerificationStatus: "01",
		Surname:               "SMITH",
		Forename:              "JOHN",
		DateOfBirth:           "19800115",
		Sex:                   "1",
		PatientTitle:          "MR",
		AddressLines:          [5]string{"1 HIGH STREET", "OLDTOWN", "", "LONDON", "GREATER LONDON"},
		Postcode:              "sw1a 1aa",
		DeathIndicator:        "N",
		HomePhone:             "020 7946 0000",
		MobilePhone:           "07700-900123",
	}
}

func TestValidator_Validate_Accepted(t *testing.T) {
	out := newValidator(t).Validate(goodFields())

	require.True(t, out.Accepted())
	p := out.Patient
	require.Equal(t, "12345", p.InternalPatientNumber)
	require.Equal(t, "RX1", p.AssigningAuthority)
	require.Equal(t, "SMITH", p.Surname)
	require.Equal(t, "19800115", p.DateOfBirth)
	require.Equal(t, "M", p.Sex)
	require.Equal(t, "SW1A 1AA", p.Postcode)
	require.Equal(t, "N", p.DeathIndicator)
	require.Equal(t, "02079460000", p.HomePhone)
	require.Equal(t, "07700900123", p.MobilePhone)
	require.Empty(t, p.WorkPhone)
}

func TestValidator_Validate_Deterministic(t *testing.T) {
	v := newValidator(t)
	first := v.Validate(goodFields())
	second := v.Validate(goodFields())
	require.Equal(t, first.Patient, second.Patient)
}

func TestValidator_Validate_HardRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Fields)
		reason string
	}{
		{
			name:   "missing surname",
			mutate: func(f *schema.Fields) { f.Surname = "" },
			reason: patient.ReasonMissingSurname,
		},
		{
			name:   "NULL surname",
			mutate: func(f *schema.Fields) { f.Surname = "NULL" },
			reason: patient.ReasonMissingSurname,
		},
		{
			name:   "missing date of birth",
			mutate: func(f *schema.Fields) { f.DateOfBirth = "" },
			reason: patient.ReasonMissingDateOfBirth,
		},
		{
			name:   "NULL date of birth",
			mutate: func(f *schema.Fields) { f.DateOfBirth = "NULL" },
			reason: patient.ReasonMissingDateOfBirth,
		},
		{
			name:   "unparseable date of birth",
			mutate: func(f *schema.Fields) { f.DateOfBirth = "15/01/1980" },
			reason: patient.ReasonInvalidDateOfBirth,
		},
		{
			name:   "impossible date of birth",
			mutate: func(f *schema.Fields) { f.DateOfBirth = "19801350" },
			reason: patient.ReasonInvalidDateOfBirth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := goodFields()
			tt.mutate(&f)

			out := newValidator(t).Validate(f)
			require.False(t, out.Accepted())
			require.Equal(t, patient.TierError, out.Rejection.Tier)
			require.Equal(t, tt.reason, out.Rejection.Reason)
			require.NotEmpty(t, out.Rejection.PatientID)
		})
	}
}

func TestValidator_Validate_SkipRejections(t *testing.T) {
	t.Run("age over limit without death", func(t *testing.T) {
		f := goodFields()
		f.DateOfBirth = "18960115" // age 130 at the fixed clock

		out := newValidator(t).Validate(f)
		require.False(t, out.Accepted())
		require.Equal(t, patient.TierSkip, out.Rejection.Tier)
		require.Equal(t, patient.ReasonAgeOverLimit, out.Rejection.Reason)
		require.Equal(t, "12345", out.Rejection.PatientID)
	})

	t.Run("stale date of death", func(t *testing.T) {
		f := goodFields()
		f.DeathIndicator = "Y"
		f.DateOfDeath = "20200101" // more than two years before the clock

		out := newValidator(t).Validate(f)
		require.False(t, out.Accepted())
		require.Equal(t, patient.TierSkip, out.Rejection.Tier)
		require.Equal(t, patient.ReasonStaleDateOfDeath, out.Rejection.Reason)
	})

	t.Run("recent death is accepted", func(t *testing.T) {
		f := goodFields()
		f.DeathIndicator = "Y"
		f.DateOfDeath = "20250601"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
	})

	t.Run("excluded case number", func(t *testing.T) {
		f := goodFields()

		out := newValidator(t, "C001").Validate(f)
		require.False(t, out.Accepted())
		require.Equal(t, patient.TierSkip, out.Rejection.Tier)
		require.Equal(t, patient.ReasonExcludedCaseNumber, out.Rejection.Reason)
	})

	t.Run("old patient with death recorded not skipped for age", func(t *testing.T) {
		f := goodFields()
		f.DateOfBirth = "18960115"
		f.DeathIndicator = "Y"
		f.DateOfDeath = "20250601"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
	})
}

func TestValidator_Validate_DateForms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"19800115", "19800115"},
		{"1980-01-15", "19800115"},
		{"1980-01-15 00:00:00", "19800115"},
		{"19800115 12:30:00", "19800115"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f := goodFields()
			f.DateOfBirth = tt.in

			out := newValidator(t).Validate(f)
			require.True(t, out.Accepted())
			require.Equal(t, tt.want, out.Patient.DateOfBirth)
		})
	}
}

func TestValidator_Validate_SexMapping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "M"}, {"M", "M"}, {"male", "M"},
		{"2", "F"}, {"F", "F"}, {"FEMALE", "F"},
		{"", "U"}, {"9", "U"}, {"X", "U"}, {"NULL", "U"},
	}
	for _, tt := range tests {
		f := goodFields()
		f.Sex = tt.in
		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Equal(t, tt.want, out.Patient.Sex, "sex input %q", tt.in)
	}
}

func TestValidator_Validate_DeathReconciliation(t *testing.T) {
	t.Run("death before birth reset with error note", func(t *testing.T) {
		f := goodFields()
		f.DeathIndicator = "Y"
		f.DateOfDeath = "19700101"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Empty(t, out.Patient.DateOfDeath)
		require.True(t, hasNoteContaining(out.Notes, "earlier than date of birth"))
	})

	t.Run("indicator N with death date corrected to Y", func(t *testing.T) {
		f := goodFields()
		f.DeathIndicator = "N"
		f.DateOfDeath = "20250601"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Equal(t, "Y", out.Patient.DeathIndicator)
		require.True(t, hasNoteContaining(out.Notes, "corrected to Y"))
	})

	t.Run("indicator Y without death date flagged", func(t *testing.T) {
		f := goodFields()
		f.DeathIndicator = "Y"
		f.DateOfDeath = ""

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Equal(t, "Y", out.Patient.DeathIndicator)
		require.True(t, hasNoteContaining(out.Notes, "no date of death"))
	})

	t.Run("invalid death date dropped with note", func(t *testing.T) {
		f := goodFields()
		f.DateOfDeath = "not-a-date"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Empty(t, out.Patient.DateOfDeath)
		require.True(t, hasNoteContaining(out.Notes, "invalid date of death"))
	})
}

func TestValidator_Validate_FieldHygiene(t *testing.T) {
	t.Run("over-length fields truncated", func(t *testing.T) {
		f := goodFields()
		f.Surname = strings.Repeat("A", 40)
		f.Forename = strings.Repeat("B", 30)
		f.PatientTitle = "PROFESSOR"
		f.AddressLines[0] = strings.Repeat("C", 60)

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Len(t, out.Patient.Surname, 30)
		require.Len(t, out.Patient.Forename, 20)
		require.Len(t, out.Patient.PatientTitle, 8)
		require.Len(t, out.Patient.Address[0], 50)
	})

	t.Run("whitespace collapsed in address", func(t *testing.T) {
		f := goodFields()
		f.AddressLines[0] = "  1   HIGH    STREET "

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Equal(t, "1 HIGH STREET", out.Patient.Address[0])
	})

	t.Run("non-numeric NHS number flagged but kept", func(t *testing.T) {
		f := goodFields()
		f.NHSNumber = "94347659AB"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Equal(t, "94347659AB", out.Patient.NHSNumber)
		require.True(t, hasNoteContaining(out.Notes, "non-numeric"))
	})

	t.Run("over-length NHS number truncated with note", func(t *testing.T) {
		f := goodFields()
		f.NHSNumber = "943476591900"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Equal(t, "9434765919", out.Patient.NHSNumber)
		require.True(t, hasNoteContaining(out.Notes, "over 10 chars"))
	})

	t.Run("phone without digits dropped with warning", func(t *testing.T) {
		f := goodFields()
		f.HomePhone = "ex-directory"

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.Empty(t, out.Patient.HomePhone)
		require.True(t, hasNoteContaining(out.Notes, "no digits"))
	})

	t.Run("placeholder internal number generated", func(t *testing.T) {
		f := goodFields()
		f.InternalPatientNumber = ""

		out := newValidator(t).Validate(f)
		require.True(t, out.Accepted())
		require.True(t, strings.HasPrefix(out.Patient.InternalPatientNumber, "UNK"))
	})
}

func TestPatient_BirthYear(t *testing.T) {
	out := newValidator(t).Validate(goodFields())
	require.True(t, out.Accepted())
	require.Equal(t, "1980", out.Patient.BirthYear())
}

func hasNoteContaining(notes []patient.Note, substr string) bool {
	for _, n := range notes {
		if strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}
