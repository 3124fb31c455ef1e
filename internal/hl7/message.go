// Package hl7 composes HL7 v2 ADT messages from validated patients and
// provides the process-wide sequence generator used to identify them.
// Segments are emitted as wire text directly; the encoding conventions are
// the standard field separator, caret components and CR segment terminator.
package hl7

import (
	"strings"
	"time"
)

// Wire-format separators.
const (
	fieldSep     = "|"
	componentSep = "^"
	// encodingChars is the literal MSH-2 value.
	encodingChars = `^~\&`
	// segmentTerm ends every segment. A bare carriage return, no line feed,
	// as the receiving interface engines require.
	segmentTerm = "\r"
)

// Event codes for the supported ADT message types.
const (
	EventAdmit        = "A01"
	EventRegister     = "A04"
	EventUpdate       = "A08"
	EventAddPerson    = "A28"
	EventUpdatePerson = "A31"
)

// Events is the closed set of supported event codes in a fixed order.
var Events = []string{EventAdmit, EventRegister, EventUpdate, EventAddPerson, EventUpdatePerson}

// ValidEvent reports whether code is a supported ADT event type.
func ValidEvent(code string) bool {
	for _, e := range Events {
		if e == code {
			return true
		}
	}
	return false
}

// Segment is one populated message segment: the three-letter ID plus its
// fields in order. Field 0 encodes into position 1 of the wire segment.
type Segment struct {
	ID     string
	Fields []string
}

// String renders the segment without its terminator.
func (s Segment) String() string {
	if len(s.Fields) == 0 {
		return s.ID
	}
	return s.ID + fieldSep + strings.Join(s.Fields, fieldSep)
}

// Message is a composed ADT message ready to be written. Segment order is
// fixed per event type and every required segment is present by the time a
// Message exists.
type Message struct {
	EventType string
	ControlID string
	CreatedAt time.Time
	// BirthYear is the output bucket, "unknown" only as a defensive
	// fallback for an unparseable date of birth.
	BirthYear string
	// PatientID is carried for telemetry correlation.
	PatientID string
	Segments  []Segment
}

// Encode serializes the message: each segment terminated with a bare CR.
func (m *Message) Encode() []byte {
	var b strings.Builder
	for _, seg := range m.Segments {
		b.WriteString(seg.String())
		b.WriteString(segmentTerm)
	}
	return []byte(b.String())
}

// sanitize replaces structural HL7 characters in a field value with spaces.
// Full escape-sequence encoding is not needed for this feed; stripping the
// delimiters keeps the message well-formed.
func sanitize(value string) string {
	if value == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '|', '^', '~', '&', '\r', '\n':
			return ' '
		default:
			return r
		}
	}, value)
}

// components joins sub-values with the component separator. Trailing empty
// components are kept; receivers read components positionally.
func components(parts ...string) string {
	return strings.Join(parts, componentSep)
}
