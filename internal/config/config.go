// Package config holds the application configuration for the CSV to HL7
// converter. The configuration is loaded once at startup, validated, and
// passed by reference into the pipeline; nothing mutates it afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values. These match the config file the tool writes
// on first run, so a missing file behaves the same as the generated default.
const (
	DefaultBatchSize   = 1000
	DefaultMaxRetries  = 3
	DefaultEventType   = "A28"
	DefaultFileExt     = "hl7"
	DefaultHL7Version  = "2.4"
	DefaultPASSeparator = "|"
)

// EventTypes is the closed set of supported ADT event codes.
var EventTypes = []string{"A01", "A04", "A08", "A28", "A31"}

// Config is the complete, immutable application configuration.
type Config struct {
	Directories Directories `mapstructure:"directories" json:"directories"`
	HL7         HL7Settings `mapstructure:"hl7_settings" json:"hl7_settings"`
	Patient     Patient     `mapstructure:"patient_settings" json:"patient_settings"`
	PV1         PV1Settings `mapstructure:"pv1_settings" json:"pv1_settings"`
	Processing  Processing  `mapstructure:"processing" json:"processing"`
	Logging     Logging     `mapstructure:"logging" json:"logging"`
}

// Directories holds the input and output folder paths.
type Directories struct {
	InputFolder  string `mapstructure:"input_folder" json:"input_folder"`
	OutputFolder string `mapstructure:"output_folder" json:"output_folder"`
}

// HL7Settings carries the MSH header values and the default event type. The
// pipeline treats all of these as opaque strings.
type HL7Settings struct {
	SendingApplication   string `mapstructure:"sending_application" json:"sending_application"`
	SendingFacility      string `mapstructure:"sending_facility" json:"sending_facility"`
	ReceivingApplication string `mapstructure:"receiving_application" json:"receiving_application"`
	ReceivingFacility    string `mapstructure:"receiving_facility" json:"receiving_facility"`
	DefaultEventType     string `mapstructure:"default_event_type" json:"default_event_type"`
	Version              string `mapstructure:"hl7_version" json:"hl7_version"`
	ProcessingID         string `mapstructure:"processing_id" json:"processing_id"`
	AcceptAckType        string `mapstructure:"accept_acknowledgment_type" json:"accept_acknowledgment_type"`
	ApplicationAckType   string `mapstructure:"application_acknowledgment_type" json:"application_acknowledgment_type"`
}

// Patient holds patient-level settings applied during validation.
type Patient struct {
	AssigningAuthority string `mapstructure:"assigning_authority" json:"assigning_authority"`

	// ExcludedCaseNumbers lists hospital case numbers that must never be
	// converted. Matching records are skipped, not errored.
	ExcludedCaseNumbers []string `mapstructure:"excluded_case_numbers" json:"excluded_case_numbers"`
}

// PV1Settings supplies the visit segment defaults used for A01 messages.
type PV1Settings struct {
	PatientClass       string `mapstructure:"patient_class" json:"patient_class"`
	PatientType        string `mapstructure:"patient_type" json:"patient_type"`
	VisitInstitution   string `mapstructure:"visit_institution" json:"visit_institution"`
	AttendingDoctorID  string `mapstructure:"attending_doctor_id" json:"attending_doctor_id"`
	AttendingDoctor    string `mapstructure:"attending_doctor_name" json:"attending_doctor_name"`
	AttendingDoctorTyp string `mapstructure:"attending_doctor_type" json:"attending_doctor_type"`
	ReferringDoctor    string `mapstructure:"referring_doctor_name" json:"referring_doctor_name"`
	ReferringDoctorID  string `mapstructure:"referring_doctor_id" json:"referring_doctor_id"`
}

// Processing controls batching, parallelism and retries.
type Processing struct {
	BatchSize int `mapstructure:"batch_size" json:"batch_size"`

	// MaxWorkers is the worker pool size. Zero means auto: one worker per
	// available CPU, minus one for the drain loop, never below one.
	MaxWorkers int `mapstructure:"max_workers" json:"max_workers"`

	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`

	// PASSeparator splits fields in .txt (PAS extract) inputs.
	PASSeparator string `mapstructure:"pas_separator" json:"pas_separator"`

	// FieldMapping maps logical patient field names to zero-based column
	// indices. Fields absent from the map are treated as not supplied.
	FieldMapping map[string]int `mapstructure:"field_mapping" json:"field_mapping"`

	// ExpectedFieldCount is the exact number of columns a record must have.
	ExpectedFieldCount int `mapstructure:"expected_field_count" json:"expected_field_count"`
}

// Logging configures the telemetry sink.
type Logging struct {
	LogDirectory string `mapstructure:"log_directory" json:"log_directory"`
	LogLevel     string `mapstructure:"log_level" json:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Directories: Directories{
			InputFolder:  "input",
			OutputFolder: "output_hl7",
		},
		HL7: HL7Settings{
			SendingApplication:   "CSV2HL7_Converter",
			SendingFacility:      "Data_Processing_Center",
			ReceivingApplication: "Hospital_Information_System",
			ReceivingFacility:    "Main_Hospital",
			DefaultEventType:     DefaultEventType,
			Version:              DefaultHL7Version,
			ProcessingID:         "T",
			AcceptAckType:        "AL",
			ApplicationAckType:   "NE",
		},
		Patient: Patient{
			AssigningAuthority: "RX1",
		},
		PV1: PV1Settings{
			PatientClass:       "O",
			PatientType:        "O",
			VisitInstitution:   "MAIN_HOSPITAL",
			AttendingDoctorID:  "ACON",
			AttendingDoctor:    "ANAESTHETICS CONS",
			AttendingDoctorTyp: "L",
			ReferringDoctor:    "ANAESTHETICS CONS",
			ReferringDoctorID:  "AUSHICPR",
		},
		Processing: Processing{
			BatchSize:          DefaultBatchSize,
			MaxWorkers:         0,
			MaxRetries:         DefaultMaxRetries,
			PASSeparator:       DefaultPASSeparator,
			FieldMapping:       DefaultFieldMapping(),
			ExpectedFieldCount: DefaultExpectedFieldCount,
		},
		Logging: Logging{
			LogDirectory: "logs",
			LogLevel:     "INFO",
		},
	}
}

// Load reads configuration from the given file path. A missing file is not
// an error: the defaults are returned so a fresh checkout works out of the
// box. A present but malformed file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || isNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	// viper wraps fs errors from os.Open when given an explicit file path.
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("directories.input_folder", def.Directories.InputFolder)
	v.SetDefault("directories.output_folder", def.Directories.OutputFolder)
	v.SetDefault("hl7_settings.sending_application", def.HL7.SendingApplication)
	v.SetDefault("hl7_settings.sending_facility", def.HL7.SendingFacility)
	v.SetDefault("hl7_settings.receiving_application", def.HL7.ReceivingApplication)
	v.SetDefault("hl7_settings.receiving_facility", def.HL7.ReceivingFacility)
	v.SetDefault("hl7_settings.default_event_type", def.HL7.DefaultEventType)
	v.SetDefault("hl7_settings.hl7_version", def.HL7.Version)
	v.SetDefault("hl7_settings.processing_id", def.HL7.ProcessingID)
	v.SetDefault("hl7_settings.accept_acknowledgment_type", def.HL7.AcceptAckType)
	v.SetDefault("hl7_settings.application_acknowledgment_type", def.HL7.ApplicationAckType)
	v.SetDefault("patient_settings.assigning_authority", def.Patient.AssigningAuthority)
	v.SetDefault("pv1_settings.patient_class", def.PV1.PatientClass)
	v.SetDefault("pv1_settings.patient_type", def.PV1.PatientType)
	v.SetDefault("pv1_settings.visit_institution", def.PV1.VisitInstitution)
	v.SetDefault("pv1_settings.attending_doctor_id", def.PV1.AttendingDoctorID)
	v.SetDefault("pv1_settings.attending_doctor_name", def.PV1.AttendingDoctor)
	v.SetDefault("pv1_settings.attending_doctor_type", def.PV1.AttendingDoctorTyp)
	v.SetDefault("pv1_settings.referring_doctor_name", def.PV1.ReferringDoctor)
	v.SetDefault("pv1_settings.referring_doctor_id", def.PV1.ReferringDoctorID)
	v.SetDefault("processing.batch_size", def.Processing.BatchSize)
	v.SetDefault("processing.max_workers", def.Processing.MaxWorkers)
	v.SetDefault("processing.max_retries", def.Processing.MaxRetries)
	v.SetDefault("processing.pas_separator", def.Processing.PASSeparator)
	v.SetDefault("processing.field_mapping", def.Processing.FieldMapping)
	v.SetDefault("processing.expected_field_count", def.Processing.ExpectedFieldCount)
	v.SetDefault("logging.log_directory", def.Logging.LogDirectory)
	v.SetDefault("logging.log_level", def.Logging.LogLevel)
}

// Save writes the configuration to path as indented JSON. Used by
// `config init` so a fresh deployment starts from an editable file holding
// the same values the defaults would supply.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// Level maps the configured log level name to a slog level. Unknown names
// fall back to info.
func (l Logging) Level() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(l.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Workers resolves the effective worker pool size.
func (c *Config) Workers() int {
	if c.Processing.MaxWorkers > 0 {
		return c.Processing.MaxWorkers
	}
	return max(1, runtime.NumCPU()-1)
}

// Validate checks the configuration and returns every issue found, so the
// operator can fix them all in one pass.
func (c *Config) Validate() []string {
	var issues []string

	required := []struct {
		key, value string
	}{
		{"directories.input_folder", c.Directories.InputFolder},
		{"directories.output_folder", c.Directories.OutputFolder},
		{"hl7_settings.sending_application", c.HL7.SendingApplication},
		{"hl7_settings.sending_facility", c.HL7.SendingFacility},
		{"hl7_settings.receiving_application", c.HL7.ReceivingApplication},
		{"hl7_settings.receiving_facility", c.HL7.ReceivingFacility},
		{"patient_settings.assigning_authority", c.Patient.AssigningAuthority},
		{"pv1_settings.patient_class", c.PV1.PatientClass},
		{"pv1_settings.visit_institution", c.PV1.VisitInstitution},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			issues = append(issues, fmt.Sprintf("configuration %q is missing or empty", r.key))
		}
	}

	if c.Processing.BatchSize < 1 {
		issues = append(issues, "configuration \"processing.batch_size\" must be a positive integer")
	}
	if c.Processing.MaxRetries < 0 {
		issues = append(issues, "configuration \"processing.max_retries\" must be a non-negative integer")
	}
	if c.Processing.MaxWorkers < 0 {
		issues = append(issues, "configuration \"processing.max_workers\" must be zero (auto) or positive")
	}
	if c.Processing.ExpectedFieldCount < 1 {
		issues = append(issues, "configuration \"processing.expected_field_count\" must be a positive integer")
	}

	if !validEventType(c.HL7.DefaultEventType) {
		issues = append(issues, fmt.Sprintf(
			"configuration \"hl7_settings.default_event_type\" must be one of %v", EventTypes))
	}

	return issues
}

func validEventType(code string) bool {
	for _, t := range EventTypes {
		if code == t {
			return true
		}
	}
	return false
}
