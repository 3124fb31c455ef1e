package hl7

import (
	"fmt"
	"time"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/patient"
)

// msgTimeLayout is the minute-resolution timestamp used in MSH-7 and EVN-2.
const msgTimeLayout = "200601021504"

// Composer assembles ADT messages for the five supported event types.
// Header and visit defaults come from configuration and are treated as
// opaque strings.
type Composer struct {
	hl7 config.HL7Settings
	pv1 config.PV1Settings

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewComposer builds a Composer from the message settings.
func NewComposer(hl7 config.HL7Settings, pv1 config.PV1Settings) *Composer {
	return &Composer{hl7: hl7, pv1: pv1, now: time.Now}
}

// WithClock overrides the composer's clock. Test hook.
func (c *Composer) WithClock(now func() time.Time) *Composer {
	c.now = now
	return c
}

// Compose builds the ordered segment sequence for one patient and event
// type: MSH, EVN, PID, and PV1 for admit events only. A missing required
// field after validation is an internal-invariant violation and returns an
// error; the caller treats it as a write failure.
func (c *Composer) Compose(p *patient.Patient, eventType string) (*Message, error) {
	if p == nil {
		return nil, fmt.Errorf("compose: nil patient")
	}
	if !ValidEvent(eventType) {
		return nil, fmt.Errorf("compose: unsupported event type %q", eventType)
	}
	// Validation guarantees these; absence here means a bug upstream.
	if p.Surname == "" || p.DateOfBirth == "" {
		return nil, fmt.Errorf("compose: patient %s missing required field after validation", p.InternalPatientNumber)
	}

	now := c.now()
	controlID := ControlID(now)
	timestamp := now.Format(msgTimeLayout)

	segments := []Segment{
		c.buildMSH(eventType, controlID, timestamp),
		c.buildEVN(eventType, timestamp),
		c.buildPID(p),
	}
	if eventType == EventAdmit {
		segments = append(segments, c.buildPV1())
	}

	return &Message{
		EventType: eventType,
		ControlID: controlID,
		CreatedAt: now,
		BirthYear: p.BirthYear(),
		PatientID: p.InternalPatientNumber,
		Segments:  segments,
	}, nil
}

// buildMSH populates the message header. Field 0 is MSH-2 (the encoding
// characters); MSH-1 is the field separator itself and is implied by the
// wire rendering.
func (c *Composer) buildMSH(eventType, controlID, timestamp string) Segment {
	return Segment{ID: "MSH", Fields: []string{
		encodingChars,            // MSH-2
		c.hl7.SendingApplication, // MSH-3
		c.hl7.SendingFacility,    // MSH-4
		c.hl7.ReceivingApplication,
		c.hl7.ReceivingFacility,
		timestamp, // MSH-7
		"",
		"ADT" + componentSep + eventType, // MSH-9
		controlID,                        // MSH-10
		c.hl7.ProcessingID,
		c.hl7.Version,
		"",
		"",
		c.hl7.AcceptAckType,      // MSH-15
		c.hl7.ApplicationAckType, // MSH-16
	}}
}

func (c *Composer) buildEVN(eventType, timestamp string) Segment {
	return Segment{ID: "EVN", Fields: []string{eventType, timestamp}}
}

// buildPID populates the patient identification segment through PID-30.
func (c *Composer) buildPID(p *patient.Patient) Segment {
	// PID-3 repeats: internal/case identifier, then the NHS number when
	// present, verified iff the verification status is "01".
	identifiers := components(sanitize(p.HospitalCaseNumber), "", "", "HOSP", sanitize(p.AssigningAuthority))
	if p.NHSNumber != "" {
		verified := "N"
		if p.NHSVerificationStatus == "01" {
			verified = "Y"
		}
		identifiers += "~" + components(sanitize(p.NHSNumber), verified, "", "NHSNO", "NHS")
	}

	name := components(sanitize(p.Surname), sanitize(p.Forename), "", "", sanitize(p.PatientTitle))

	address := addressComponents(p.Address, p.Postcode)

	fields := make([]string, 30)
	fields[0] = "1"                         // PID-1 set ID
	fields[2] = identifiers                 // PID-3
	fields[4] = name                        // PID-5
	fields[6] = sanitize(p.DateOfBirth)     // PID-7
	fields[7] = sanitize(p.Sex)             // PID-8
	fields[10] = address                    // PID-11
	fields[12] = sanitize(p.HomePhone)      // PID-13
	fields[13] = sanitize(p.MobilePhone)    // PID-14
	fields[28] = sanitize(p.DateOfDeath)    // PID-29
	fields[29] = sanitize(p.DeathIndicator) // PID-30

	return Segment{ID: "PID", Fields: fields}
}

// addressComponents maps the stored address lines into PID-11. How the
// lines collapse depends on how many are populated: a full five-line
// address drops line three (a duplicate locality in the source extract),
// four lines map straight through, three map to street/street/city, and
// two map to street/city. The postcode is always component five.
func addressComponents(lines [5]string, postcode string) string {
	n := len(lines)
	for n > 0 && lines[n-1] == "" {
		n--
	}

	var c [4]string
	switch n {
	case 5:
		c[0], c[1], c[2], c[3] = lines[0], lines[1], lines[3], lines[4]
	case 4:
		c[0], c[1], c[2], c[3] = lines[0], lines[1], lines[2], lines[3]
	case 3:
		c[0], c[1], c[2] = lines[0], lines[1], lines[2]
	case 2:
		c[0], c[2] = lines[0], lines[1]
	case 1:
		c[0] = lines[0]
	}

	return components(
		sanitize(c[0]),
		sanitize(c[1]),
		sanitize(c[2]),
		sanitize(c[3]),
		sanitize(postcode),
	)
}

// buildPV1 populates the visit segment used for admit events. All values
// are configured defaults; this feed carries no per-record visit data.
func (c *Composer) buildPV1() Segment {
	fields := make([]string, 9)
	fields[0] = "1" // PV1-1 set ID
	fields[1] = c.pv1.PatientClass
	fields[2] = c.pv1.VisitInstitution
	if c.pv1.AttendingDoctorID != "" {
		fields[6] = componentSep + c.pv1.AttendingDoctorID // PV1-7
	}
	if c.pv1.AttendingDoctor != "" {
		fields[7] = components("", c.pv1.AttendingDoctor, "", "", "", "", "", c.pv1.AttendingDoctorTyp) // PV1-8
	}
	if c.pv1.ReferringDoctor != "" && c.pv1.ReferringDoctorID != "" {
		fields[8] = components("", c.pv1.ReferringDoctor, "", "", "", "", "", "", c.pv1.ReferringDoctorID) // PV1-9
	}
	return Segment{ID: "PV1", Fields: fields}
}
