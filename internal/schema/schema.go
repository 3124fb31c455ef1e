// Package schema maps raw record columns to named patient fields. The
// mapping is positional: each logical field name points at a zero-based
// column index, and a missing name means the source does not supply that
// field. Mapping is pure; no validation happens here.
package schema

import (
	"fmt"
	"strings"

	"github.com/openpas/csv2hl7/internal/config"
)

// Schema is a compiled field mapping. Indices are resolved once at
// construction so per-record lookups are plain array accesses.
type Schema struct {
	indices map[string]int
	// expected is the exact column count a record must have.
	expected int
}

// New builds a Schema from a logical-name to column-index mapping.
// Negative indices are rejected, as are indices at or beyond the expected
// field count, since they could never be satisfied by a conforming record.
func New(mapping map[string]int, expectedFields int) (*Schema, error) {
	if expectedFields < 1 {
		return nil, fmt.Errorf("schema: expected field count must be positive, got %d", expectedFields)
	}
	indices := make(map[string]int, len(mapping))
	for name, idx := range mapping {
		if idx < 0 {
			return nil, fmt.Errorf("schema: field %q has negative column index %d", name, idx)
		}
		if idx >= expectedFields {
			return nil, fmt.Errorf("schema: field %q index %d out of range for %d columns", name, idx, expectedFields)
		}
		indices[name] = idx
	}
	return &Schema{indices: indices, expected: expectedFields}, nil
}

// Default returns the schema for the standard PAS extract layout.
func Default() *Schema {
	s, err := New(config.DefaultFieldMapping(), config.DefaultExpectedFieldCount)
	if err != nil {
		panic("schema: default mapping invalid: " + err.Error())
	}
	return s
}

// ExpectedFields returns the exact column count a conforming record has.
func (s *Schema) ExpectedFields() int { return s.expected }

// Field returns the trimmed value of the named field from a record, or the
// empty string when the field is unmapped or the record is short.
func (s *Schema) Field(record []string, name string) string {
	idx, ok := s.indices[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Fields is a raw, unvalidated view of one record with every logical field
// resolved by name. Values are trimmed but otherwise untouched.
type Fields struct {
	InternalPatientNumber string
	HospitalCaseNumber    string
	NHSNumber             string
	NHSVerificationStatus string
	Surname               string
	Forename              string
	DateOfBirth           string
	Sex                   string
	PatientTitle          string
	AddressLines          [5]string
	Postcode              string
	DeathIndicator        string
	DateOfDeath           string
	RegisteredGPCode      string
	EthnicCode            string
	HomePhone             string
	WorkPhone             string
	MobilePhone           string
	RegisteredGP          string
	RegisteredPractice    string
}

// Map resolves every logical field of one record. The record's field count
// is not checked here; callers reject malformed records before mapping.
func (s *Schema) Map(record []string) Fields {
	return Fields{
		InternalPatientNumber: s.Field(record, config.FieldInternalPatientNumber),
		HospitalCaseNumber:    s.Field(record, config.FieldHospitalCaseNumber),
		NHSNumber:             s.Field(record, config.FieldNHSNumber),
		NHSVerificationStatus: s.Field(record, config.FieldNHSVerificationStatus),
		Surname:               s.Field(record, config.FieldSurname),
		Forename:              s.Field(record, config.FieldForename),
		DateOfBirth:           s.Field(record, config.FieldDateOfBirth),
		Sex:                   s.Field(record, config.FieldSex),
		PatientTitle:          s.Field(record, config.FieldPatientTitle),
		AddressLines: [5]string{
			s.Field(record, config.FieldAddressLine1),
			s.Field(record, config.FieldAddressLine2),
			s.Field(record, config.FieldAddressLine3),
			s.Field(record, config.FieldAddressLine4),
			s.Field(record, config.FieldAddressLine5),
		},
		Postcode:           s.Field(record, config.FieldPostcode),
		DeathIndicator:     s.Field(record, config.FieldDeathIndicator),
		DateOfDeath:        s.Field(record, config.FieldDateOfDeath),
		RegisteredGPCode:   s.Field(record, config.FieldRegisteredGPCode),
		EthnicCode:         s.Field(record, config.FieldEthnicCode),
		HomePhone:          s.Field(record, config.FieldHomePhone),
		WorkPhone:          s.Field(record, config.FieldWorkPhone),
		MobilePhone:        s.Field(record, config.FieldMobilePhone),
		RegisteredGP:       s.Field(record, config.FieldRegisteredGP),
		RegisteredPractice: s.Field(record, config.FieldRegisteredPractice),
	}
}

// BestIdentifier returns the most useful patient identifier available in a
// raw record for traceability in rejection telemetry.
func (s *Schema) BestIdentifier(record []string) string {
	if v := s.Field(record, config.FieldInternalPatientNumber); v != "" {
		return v
	}
	if v := s.Field(record, config.FieldNHSNumber); v != "" {
		return v
	}
	if v := s.Field(record, config.FieldHospitalCaseNumber); v != "" {
		return v
	}
	return "UNKNOWN"
}
