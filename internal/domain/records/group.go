package records

import (
	"strings"

	"rollcall/internal/core/entity"
	"rollcall/internal/core/id"
)

// Group is a named set of people, e.g. a class or a team.
type Group struct {
	entity.SyncFields
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description"`
}

func (g *Group) Validate() error {
	if err := validateBase(g); err != nil {
		return err
	}
	if g.IsDeleted() {
		return nil
	}
	if err := requireText("name", g.Name, maxNameLen); err != nil {
		return err
	}
	return optionalText("description", g.Description, maxNoteLen)
}

func (g *Group) Normalize() []string {
	if blank(g.Name) {
		g.Name = untitled
		return []string{"name"}
	}
	return nil
}

// GroupMember links a person to a group.
type GroupMember struct {
	entity.SyncFields
	GroupID  id.ID `db:"group_id" json:"groupId"`
	PersonID id.ID `db:"person_id" json:"personId"`
}

func (m *GroupMember) Validate() error {
	if err := validateBase(m); err != nil {
		return err
	}
	if m.IsDeleted() {
		return nil
	}
	if err := requireRef("groupId", m.GroupID); err != nil {
		return err
	}
	return requireRef("personId", m.PersonID)
}

func (m *GroupMember) Normalize() []string { return nil }

// MimeOctetStream is the fallback media type of photos with a blank type.
const MimeOctetStream = "application/octet-stream"

// MaxPhotoBytes bounds the inline payload of a single photo record.
const MaxPhotoBytes = 5 << 20

// Photo is a binary image synchronized inline with the rest of the dataset.
type Photo struct {
	entity.SyncFields
	PersonID *id.ID `db:"person_id" json:"personId"`
	EventID  *id.ID `db:"event_id" json:"eventId"`
	MimeType string `db:"mime_type" json:"mimeType"`
	Data     []byte `db:"data" json:"data"`
}

func (p *Photo) Validate() error {
	if err := validateBase(p); err != nil {
		return err
	}
	if p.IsDeleted() {
		return nil
	}
	if err := optionalRef("personId", p.PersonID); err != nil {
		return err
	}
	if err := optionalRef("eventId", p.EventID); err != nil {
		return err
	}
	if p.MimeType != MimeOctetStream && !strings.HasPrefix(p.MimeType, "image/") {
		return invalid("mimeType", "must be an image type")
	}
	if len(p.Data) == 0 {
		return invalid("data", "is required")
	}
	if len(p.Data) > MaxPhotoBytes {
		return invalid("data", "exceeds 5 MiB")
	}
	return nil
}

func (p *Photo) defaultColumns() {
	if p.Data == nil {
		p.Data = []byte{}
	}
}

func (p *Photo) Normalize() []string {
	if blank(p.MimeType) {
		p.MimeType = MimeOctetStream
		return []string{"mimeType"}
	}
	return nil
}
