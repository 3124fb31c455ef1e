package config

// Logical patient field names used in the field mapping. The pipeline maps
// raw columns to these names before validation; a name absent from the
// mapping means the source does not supply that field.
const (
	FieldInternalPatientNumber = "internal_patient_number"
	FieldAssigningAuthority    = "assigning_authority"
	FieldHospitalCaseNumber    = "hospital_case_number"
	FieldNHSNumber             = "nhs_number"
	FieldNHSVerificationStatus = "nhs_verification_status"
	FieldSurname               = "surname"
	FieldForename              = "forename"
	FieldDateOfBirth           = "date_of_birth"
	FieldSex                   = "sex"
	FieldPatientTitle          = "patient_title"
	FieldAddressLine1          = "address_line_1"
	FieldAddressLine2          = "address_line_2"
	FieldAddressLine3          = "address_line_3"
	FieldAddressLine4          = "address_line_4"
	FieldAddressLine5          = "address_line_5"
	FieldPostcode              = "postcode"
	FieldDeathIndicator        = "death_indicator"
	FieldDateOfDeath           = "date_of_death"
	FieldRegisteredGPCode      = "registered_gp_code"
	FieldEthnicCode            = "ethnic_code"
	FieldHomePhone             = "home_phone"
	FieldWorkPhone             = "work_phone"
	FieldMobilePhone           = "mobile_phone"
	FieldRegisteredGP          = "registered_gp"
	FieldRegisteredPractice    = "registered_practice"
)

// DefaultExpectedFieldCount is 25 data columns plus the trailing empty field
// produced by a terminating pipe separator.
const DefaultExpectedFieldCount = 26

// DefaultFieldMapping maps the standard PAS extract column order.
func DefaultFieldMapping() map[string]int {
	return map[string]int{
		FieldInternalPatientNumber: 0,
		FieldAssigningAuthority:    1,
		FieldHospitalCaseNumber:    2,
		FieldNHSNumber:             3,
		FieldNHSVerificationStatus: 4,
		FieldSurname:               5,
		FieldForename:              6,
		FieldDateOfBirth:           7,
		FieldSex:                   8,
		FieldPatientTitle:          9,
		FieldAddressLine1:          10,
		FieldAddressLine2:          11,
		FieldAddressLine3:          12,
		FieldAddressLine4:          13,
		FieldAddressLine5:          14,
		FieldPostcode:              15,
		FieldDeathIndicator:        16,
		FieldDateOfDeath:           17,
		FieldRegisteredGPCode:      18,
		FieldEthnicCode:            19,
		FieldHomePhone:             20,
		FieldWorkPhone:             21,
		FieldMobilePhone:           22,
		FieldRegisteredGP:          23,
		FieldRegisteredPractice:    24,
	}
}
