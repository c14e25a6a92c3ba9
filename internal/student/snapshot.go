package student

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeSnapshot parses a raw snapshot into the typed value for the
// section. The switch is exhaustive over the Section enum; an unknown
// section is a programming error surfaced as one.
func DecodeSnapshot(section Section, raw json.RawMessage) (any, error) {
	dec := func(v any) (any, error) {
		d := json.NewDecoder(bytes.NewReader(raw))
		d.DisallowUnknownFields()
		if err := d.Decode(v); err != nil {
			return nil, fmt.Errorf("student: decode %s snapshot: %w", section, err)
		}
		return v, nil
	}
	switch section {
	case SectionPersonal:
		return dec(&PersonalData{})
	case SectionEnrollment:
		return dec(&EnrollmentData{})
	case SectionGuardian:
		return dec(&GuardianData{})
	case SectionMother:
		return dec(&MotherData{})
	case SectionEmergencyContacts:
		return dec(&EmergencyContacts{})
	case SectionAcademic:
		return dec(&AcademicData{})
	case SectionLegalGuardianship:
		return dec(&LegalGuardianship{})
	case SectionFinancial:
		return dec(&FinancialState{})
	default:
		return nil, fmt.Errorf("student: unknown section %q", section)
	}
}

// EncodeSnapshot serializes a typed section value back to raw JSON.
func EncodeSnapshot(section Section, value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("student: encode %s snapshot: %w", section, err)
	}
	if _, err := DecodeSnapshot(section, raw); err != nil {
		return nil, err
	}
	return raw, nil
}
