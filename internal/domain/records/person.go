package records

import (
	"strings"

	"rollcall/internal/core/entity"
	"rollcall/internal/core/id"
)

// Person is anyone who can attend events or belong to groups.
type Person struct {
	entity.SyncFields
	Name  string  `db:"name" json:"name"`
	Email *string `db:"email" json:"email"`
	Phone *string `db:"phone" json:"phone"`
	Notes *string `db:"notes" json:"notes"`
}

func (p *Person) Validate() error {
	if err := validateBase(p); err != nil {
		return err
	}
	if p.IsDeleted() {
		return nil
	}
	if err := requireText("name", p.Name, maxNameLen); err != nil {
		return err
	}
	if p.Email != nil && *p.Email != "" && !strings.Contains(*p.Email, "@") {
		return invalid("email", "is not an address")
	}
	if err := optionalText("phone", p.Phone, 40); err != nil {
		return err
	}
	return optionalText("notes", p.Notes, maxNoteLen)
}

func (p *Person) Normalize() []string {
	if blank(p.Name) {
		p.Name = "Unknown"
		return []string{"name"}
	}
	return nil
}

// Attendee links a person to an event.
type Attendee struct {
	entity.SyncFields
	EventID  id.ID   `db:"event_id" json:"eventId"`
	PersonID id.ID   `db:"person_id" json:"personId"`
	Role     *string `db:"role" json:"role"`
}

func (a *Attendee) Validate() error {
	if err := validateBase(a); err != nil {
		return err
	}
	if a.IsDeleted() {
		return nil
	}
	if err := requireRef("eventId", a.EventID); err != nil {
		return err
	}
	if err := requireRef("personId", a.PersonID); err != nil {
		return err
	}
	return optionalText("role", a.Role, maxNameLen)
}

func (a *Attendee) Normalize() []string { return nil }

// AttendanceStatus is the value of an attendance mark.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusExcused AttendanceStatus = "excused"
	// StatusUnknown is what legacy blank statuses read back as.
	StatusUnknown AttendanceStatus = "unknown"
)

func (s AttendanceStatus) valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused, StatusUnknown:
		return true
	}
	return false
}

// AttendanceMark records one attendee's status on one event day.
type AttendanceMark struct {
	entity.SyncFields
	EventDayID id.ID            `db:"event_day_id" json:"eventDayId"`
	AttendeeID id.ID            `db:"attendee_id" json:"attendeeId"`
	Status     AttendanceStatus `db:"status" json:"status"`
	Note       *string          `db:"note" json:"note"`
}

func (m *AttendanceMark) Validate() error {
	if err := validateBase(m); err != nil {
		return err
	}
	if m.IsDeleted() {
		return nil
	}
	if err := requireRef("eventDayId", m.EventDayID); err != nil {
		return err
	}
	if err := requireRef("attendeeId", m.AttendeeID); err != nil {
		return err
	}
	if !m.Status.valid() {
		return invalid("status", "must be one of present, absent, late, excused, unknown")
	}
	return optionalText("note", m.Note, maxNoteLen)
}

func (m *AttendanceMark) Normalize() []string {
	if blank(string(m.Status)) {
		m.Status = StatusUnknown
		return []string{"status"}
	}
	return nil
}
