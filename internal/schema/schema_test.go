package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/schema"
)

func TestNew_RejectsBadMappings(t *testing.T) {
	_, err := schema.New(map[string]int{"surname": -1}, 26)
	require.Error(t, err)

	_, err = schema.New(map[string]int{"surname": 26}, 26)
	require.Error(t, err)

	_, err = schema.New(map[string]int{"surname": 5}, 0)
	require.Error(t, err)
}

func TestSchema_Field(t *testing.T) {
	s, err := schema.New(map[string]int{config.FieldSurname: 1, config.FieldForename: 2}, 4)
	require.NoError(t, err)

	record := []string{"001", "  SMITH  ", "JOHN", ""}
	require.Equal(t, "SMITH", s.Field(record, config.FieldSurname))
	require.Equal(t, "JOHN", s.Field(record, config.FieldForename))
	require.Empty(t, s.Field(record, config.FieldPostcode), "unmapped field")
	require.Empty(t, s.Field(record[:1], config.FieldSurname), "short record")
}

func TestSchema_Map(t *testing.T) {
	s := schema.Default()
	record := make([]string, s.ExpectedFields())
	record[0] = "12345"
	record[5] = "SMITH"
	record[6] = "JOHN"
	record[7] = "19800115"
	record[10] = "1 HIGH STREET"
	record[14] = "GREATER LONDON"
	record[15] = "SW1A 1AA"

	f := s.Map(record)
	require.Equal(t, "12345", f.InternalPatientNumber)
	require.Equal(t, "SMITH", f.Surname)
	require.Equal(t, "JOHN", f.Forename)
	require.Equal(t, "19800115", f.DateOfBirth)
	require.Equal(t, "1 HIGH STREET", f.AddressLines[0])
	require.Equal(t, "GREATER LONDON", f.AddressLines[4])
	require.Equal(t, "SW1A 1AA", f.Postcode)
}

func TestSchema_BestIdentifier(t *testing.T) {
	s := schema.Default()

	record := make([]string, s.ExpectedFields())
	record[0] = "12345"
	record[2] = "C001"
	record[3] = "9434765919"
	require.Equal(t, "12345", s.BestIdentifier(record))

	record[0] = ""
	require.Equal(t, "9434765919", s.BestIdentifier(record))

	record[3] = ""
	require.Equal(t, "C001", s.BestIdentifier(record))

	record[2] = ""
	require.Equal(t, "UNKNOWN", s.BestIdentifier(record))
}

func TestDefault_MatchesConfigMapping(t *testing.T) {
	s := schema.Default()
	require.Equal(t, config.DefaultExpectedFieldCount, s.ExpectedFields())
}
