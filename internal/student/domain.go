package student

import (
	"fmt"
	"time"
)

// Section enumerates the tracked areas of a student profile. Every
// audited mutation names exactly one section; undo is dispatched over
// this closed set.
type Section string

const (
	SectionPersonal          Section = "personal_data"
	SectionEnrollment        Section = "enrollment_data"
	SectionGuardian          Section = "guardian_data"
	SectionMother            Section = "mother_data"
	SectionEmergencyContacts Section = "emergency_contacts"
	SectionAcademic          Section = "academic_data"
	SectionLegalGuardianship Section = "legal_guardianship"
	SectionFinancial         Section = "financial_state"
)

// Sections lists every tracked section.
var Sections = []Section{
	SectionPersonal,
	SectionEnrollment,
	SectionGuardian,
	SectionMother,
	SectionEmergencyContacts,
	SectionAcademic,
	SectionLegalGuardianship,
	SectionFinancial,
}

// ParseSection validates a section name from the outside world.
func ParseSection(name string) (Section, error) {
	for _, s := range Sections {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("student: unknown section %q", name)
}

// PersonalData holds identity fields for the student.
type PersonalData struct {
	FirstName  string     `json:"first_name"`
	MiddleName string     `json:"middle_name,omitempty"`
	LastName   string     `json:"last_name"`
	Gender     string     `json:"gender,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	NationalID string     `json:"national_id,omitempty"`
	Address    string     `json:"address,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Email      string     `json:"email,omitempty"`
}

// EnrollmentData records the student's placement for a year.
type EnrollmentData struct {
	YearKey        string     `json:"year_key"`
	ClassName      string     `json:"class_name"`
	Stream         string     `json:"stream,omitempty"`
	Status         string     `json:"status"`
	EnrolledAt     *time.Time `json:"enrolled_at,omitempty"`
	PreviousSchool string     `json:"previous_school,omitempty"`
}

// GuardianData describes the primary guardian.
type GuardianData struct {
	FullName     string `json:"full_name"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Occupation   string `json:"occupation,omitempty"`
	WorkAddress  string `json:"work_address,omitempty"`
}

// MotherData describes the student's mother.
type MotherData struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	NationalID string `json:"national_id,omitempty"`
}

// EmergencyContact is one entry in the emergency contact list.
type EmergencyContact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone"`
	Priority     int    `json:"priority"`
}

// EmergencyContacts is the full contact list; mutated as a unit.
type EmergencyContacts struct {
	Contacts []EmergencyContact `json:"contacts"`
}

// SubjectGrade records one graded subject in a term.
type SubjectGrade struct {
	Subject string  `json:"subject"`
	Term    string  `json:"term"`
	Score   float64 `json:"score"`
}

// AcademicData aggregates grades and notes for a year.
type AcademicData struct {
	YearKey string         `json:"year_key"`
	Grades  []SubjectGrade `json:"grades,omitempty"`
	Notes   string         `json:"notes,omitempty"`
}

// LegalGuardianship records a court-ordered guardianship arrangement.
type LegalGuardianship struct {
	GuardianName string     `json:"guardian_name"`
	CourtOrderNo string     `json:"court_order_no,omitempty"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// InstallmentFlag is the mutable part of one installment: its paid state.
type InstallmentFlag struct {
	YearKey        string     `json:"year_key"`
	SequenceNumber int        `json:"sequence_number"`
	Paid           bool       `json:"paid"`
	PaidDate       *time.Time `json:"paid_date,omitempty"`
}

// FinancialState is the revertible slice of a student's finances: the
// installment paid flags across years. The transaction log itself is
// append-only and never part of a snapshot.
type FinancialState struct {
	Installments []InstallmentFlag `json:"installments"`
}
