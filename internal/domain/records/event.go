package records

import (
	"regexp"

	"rollcall/internal/core/entity"
	"rollcall/internal/core/id"
)

const (
	untitled = "Untitled"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Event is a scheduled gathering attendance is taken for.
type Event struct {
	entity.SyncFields
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description"`
	Location    *string `db:"location" json:"location"`
	CategoryID  *id.ID  `db:"category_id" json:"categoryId"`
	StartsAtMs  *int64  `db:"starts_at_ms" json:"startsAtMs"`
	EndsAtMs    *int64  `db:"ends_at_ms" json:"endsAtMs"`
}

func (e *Event) Validate() error {
	if err := validateBase(e); err != nil {
		return err
	}
	if e.IsDeleted() {
		return nil
	}
	if err := requireText("name", e.Name, maxNameLen); err != nil {
		return err
	}
	if err := optionalText("description", e.Description, maxNoteLen); err != nil {
		return err
	}
	if err := optionalText("location", e.Location, maxNameLen); err != nil {
		return err
	}
	if err := optionalRef("categoryId", e.CategoryID); err != nil {
		return err
	}
	if e.StartsAtMs != nil && e.EndsAtMs != nil && *e.EndsAtMs < *e.StartsAtMs {
		return invalid("endsAtMs", "is before startsAtMs")
	}
	return nil
}

func (e *Event) Normalize() []string {
	if blank(e.Name) {
		e.Name = untitled
		return []string{"name"}
	}
	return nil
}

// EventDay is one calendar day of a (possibly multi-day) event.
type EventDay struct {
	entity.SyncFields
	EventID id.ID  `db:"event_id" json:"eventId"`
	DateMs  int64  `db:"date_ms" json:"dateMs"`
	Label   string `db:"label" json:"label"`
}

func (d *EventDay) Validate() error {
	if err := validateBase(d); err != nil {
		return err
	}
	if d.IsDeleted() {
		return nil
	}
	if err := requireRef("eventId", d.EventID); err != nil {
		return err
	}
	if d.DateMs < 0 {
		return invalid("dateMs", "must not be negative")
	}
	return requireText("label", d.Label, maxNameLen)
}

func (d *EventDay) Normalize() []string {
	if blank(d.Label) {
		d.Label = untitled
		return []string{"label"}
	}
	return nil
}

// Category is a lookup record events are filed under.
type Category struct {
	entity.SyncFields
	Name  string  `db:"name" json:"name"`
	Color *string `db:"color" json:"color"`
}

func (c *Category) Validate() error {
	if err := validateBase(c); err != nil {
		return err
	}
	if c.IsDeleted() {
		return nil
	}
	if err := requireText("name", c.Name, maxNameLen); err != nil {
		return err
	}
	if c.Color != nil && !colorPattern.MatchString(*c.Color) {
		return invalid("color", "must be #RRGGBB")
	}
	return nil
}

func (c *Category) Normalize() []string {
	if blank(c.Name) {
		c.Name = untitled
		return []string{"name"}
	}
	return nil
}
