// Package consultation turns triage room metadata into the persona that
// drives a single voice consultation.
package consultation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"voiceagent/core"
)

const (
	DefaultPatientName    = "Patient"
	DefaultPatientID      = "unknown"
	DefaultSpecialistType = "General Practitioner"

	// Display values used only in logs when the metadata omits a field.
	logUnknownPatient    = "Unknown"
	logGeneralSpecialist = "General"
)

// ErrInvalidMetadata wraps every metadata decoding failure. Callers treat it
// as "use defaults".
var ErrInvalidMetadata = errors.New("invalid room metadata")

// SessionConfig is the persona for one room connection. It is built once and
// never modified.
type SessionConfig struct {
	PatientID      string
	PatientName    string
	SpecialistType string
	SystemPrompt   string

	// Raw presence flags for log display.
	hasPatientName    bool
	hasSpecialistType bool
}

// Metadata is the JSON document the dispatch endpoint attaches to the room.
type Metadata struct {
	PatientName    string `json:"patientName"`
	PatientID      string `json:"patientId"`
	SpecialistType string `json:"specialistType"`
	SystemPrompt   string `json:"systemPrompt"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PatientID:      DefaultPatientID,
		PatientName:    DefaultPatientName,
		SpecialistType: DefaultSpecialistType,
	}
}

// ParseRoomMetadata decodes raw room metadata. Empty metadata yields the
// defaults without error. Malformed metadata yields the defaults and an error
// wrapping ErrInvalidMetadata.
func ParseRoomMetadata(raw string, logger *core.Logger) (SessionConfig, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	cfg := DefaultSessionConfig()
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}

	var fields map[string]any
	if err := sonic.UnmarshalString(raw, &fields); err != nil {
		return DefaultSessionConfig(), fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if fields == nil {
		return DefaultSessionConfig(), fmt.Errorf("%w: not a JSON object", ErrInvalidMetadata)
	}

	if v, ok := stringField(fields, "patientName"); ok {
		cfg.hasPatientName = true
		if v != "" {
			cfg.PatientName = v
		}
	}
	if v, ok := stringField(fields, "specialistType"); ok {
		cfg.hasSpecialistType = true
		if v != "" {
			cfg.SpecialistType = v
		}
	}
	if v, ok := stringField(fields, "patientId"); ok && v != "" {
		cfg.PatientID = v
	}
	if v, ok := stringField(fields, "systemPrompt"); ok {
		cfg.SystemPrompt = v
	}

	patient, specialist := cfg.LogFields()
	logger.Info("patient connected", "patient", patient)
	logger.Info("specialist assigned", "specialist", specialist)
	return cfg, nil
}

// stringField reads a string-valued key. Numeric ids are accepted and
// formatted; other types are ignored.
func stringField(fields map[string]any, key string) (string, bool) {
	switch v := fields[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Metadata returns the JSON form attached to a room for this config.
func (c SessionConfig) Metadata() Metadata {
	return Metadata{
		PatientName:    c.PatientName,
		PatientID:      c.PatientID,
		SpecialistType: c.SpecialistType,
		SystemPrompt:   c.SystemPrompt,
	}
}

// LogFields returns the patient and specialist as shown in logs.
func (c SessionConfig) LogFields() (patient, specialist string) {
	patient, specialist = logUnknownPatient, logGeneralSpecialist
	if c.hasPatientName {
		patient = c.PatientName
	}
	if c.hasSpecialistType {
		specialist = c.SpecialistType
	}
	return patient, specialist
}
