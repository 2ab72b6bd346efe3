// Package records defines the fixed catalogue of synchronizable entity kinds,
// their validated shapes, and the ChangeSet aggregate returned to clients.
package records

import (
	"rollcall/internal/core/entity"
	"rollcall/internal/core/id"
)

// Kind names one member of the entity catalogue.
type Kind string

const (
	KindEvent          Kind = "Event"
	KindEventDay       Kind = "EventDay"
	KindPerson         Kind = "Person"
	KindAttendee       Kind = "Attendee"
	KindAttendanceMark Kind = "AttendanceMark"
	KindGroup          Kind = "Group"
	KindGroupMember    Kind = "GroupMember"
	KindCategory       Kind = "Category"
	KindPhoto          Kind = "Photo"
)

// Text limits shared by the record shapes.
const (
	maxNameLen      = 200
	maxNoteLen      = 4000
	placeholderText = "Deleted"
)

// Record is implemented by pointers to every entity kind.
type Record interface {
	Base() *entity.SyncFields
	// Validate enforces the strict ingest-time shape. Tombstones are checked
	// on their sync fields only.
	Validate() error
	// Normalize coerces blank legacy values in required columns and returns
	// the names of the fields it touched.
	Normalize() []string
}

// columnDefaulter is implemented by kinds with NOT NULL columns whose Go zero
// value is nil.
type columnDefaulter interface {
	defaultColumns()
}

type recordPtr[T any] interface {
	*T
	Record
}

// Def describes one entity kind. The catalogue is closed: Defs are only
// created by this package.
type Def struct {
	Kind Kind
	// Plural is the key of the kind's list in ChangeSet JSON.
	Plural string
	// Field is the envelope field carrying an upsert payload.
	Field string

	newFn       func() Record
	acceptsFn   func(Record) bool
	cloneFn     func(Record) Record
	placeholder func(Record)
	appendFn    func(*ChangeSet, Record)
	initFn      func(*ChangeSet)
	countFn     func(*ChangeSet) int
}

func define[T any, P recordPtr[T]](kind Kind, plural, field string, slot func(*ChangeSet) *[]P, fill func(P)) Def {
	return Def{
		Kind:   kind,
		Plural: plural,
		Field:  field,
		newFn:  func() Record { return P(new(T)) },
		acceptsFn: func(r Record) bool {
			_, ok := r.(P)
			return ok
		},
		cloneFn: func(r Record) Record {
			c := *(r.(P))
			p := P(&c)
			if d, ok := any(p).(columnDefaulter); ok {
				d.defaultColumns()
			}
			return p
		},
		placeholder: func(r Record) {
			if fill != nil {
				fill(r.(P))
			}
		},
		appendFn: func(cs *ChangeSet, r Record) {
			s := slot(cs)
			*s = append(*s, r.(P))
		},
		initFn:  func(cs *ChangeSet) { *slot(cs) = []P{} },
		countFn: func(cs *ChangeSet) int { return len(*slot(cs)) },
	}
}

// New returns an empty record of this kind.
func (d Def) New() Record {
	return d.newFn()
}

// Accepts reports whether r is a record of this kind.
func (d Def) Accepts(r Record) bool {
	return r != nil && d.acceptsFn(r)
}

// Clone returns a shallow copy of r with nil NOT NULL columns set to their
// empty value. Pointer fields are shared, so callers replace them rather than
// write through them.
func (d Def) Clone(r Record) Record {
	return d.cloneFn(r)
}

// Tombstone builds the row a delete writes when no live row exists: required
// columns get placeholders, both stamps get deletedAtMs.
func (d Def) Tombstone(recordID id.ID, deletedAtMs int64) Record {
	r := d.newFn()
	d.placeholder(r)
	b := r.Base()
	b.ID = recordID
	b.Tombstone(deletedAtMs)
	return r
}

var catalogue = []Def{
	define(KindEvent, "events", "event",
		func(cs *ChangeSet) *[]*Event { return &cs.Events },
		func(e *Event) { e.Name = placeholderText }),
	define(KindEventDay, "eventDays", "eventDay",
		func(cs *ChangeSet) *[]*EventDay { return &cs.EventDays },
		func(e *EventDay) { e.Label = placeholderText }),
	define(KindPerson, "persons", "person",
		func(cs *ChangeSet) *[]*Person { return &cs.Persons },
		func(p *Person) { p.Name = placeholderText }),
	define[Attendee](KindAttendee, "attendees", "attendee",
		func(cs *ChangeSet) *[]*Attendee { return &cs.Attendees }, nil),
	define(KindAttendanceMark, "attendanceMarks", "attendanceMark",
		func(cs *ChangeSet) *[]*AttendanceMark { return &cs.AttendanceMarks },
		func(m *AttendanceMark) { m.Status = StatusUnknown }),
	define(KindGroup, "groups", "group",
		func(cs *ChangeSet) *[]*Group { return &cs.Groups },
		func(g *Group) { g.Name = placeholderText }),
	define[GroupMember](KindGroupMember, "groupMembers", "groupMember",
		func(cs *ChangeSet) *[]*GroupMember { return &cs.GroupMembers }, nil),
	define(KindCategory, "categories", "category",
		func(cs *ChangeSet) *[]*Category { return &cs.Categories },
		func(c *Category) { c.Name = placeholderText }),
	define(KindPhoto, "photos", "photo",
		func(cs *ChangeSet) *[]*Photo { return &cs.Photos },
		func(p *Photo) {
			p.MimeType = MimeOctetStream
			p.Data = []byte{}
		}),
}

var byKind = func() map[Kind]Def {
	m := make(map[Kind]Def, len(catalogue))
	for _, d := range catalogue {
		m[d.Kind] = d
	}
	return m
}()

// Catalogue returns every entity kind in the fixed change-feed order.
func Catalogue() []Def {
	out := make([]Def, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the definition of kind.
func Lookup(kind Kind) (Def, bool) {
	d, ok := byKind[kind]
	return d, ok
}

// ChangeSet holds, per entity kind, the rows a client has not seen yet,
// ascending by server stamp. Every list is present in JSON, possibly empty.
type ChangeSet struct {
	Events          []*Event          `json:"events"`
	EventDays       []*EventDay       `json:"eventDays"`
	Persons         []*Person         `json:"persons"`
	Attendees       []*Attendee       `json:"attendees"`
	AttendanceMarks []*AttendanceMark `json:"attendanceMarks"`
	Groups          []*Group          `json:"groups"`
	GroupMembers    []*GroupMember    `json:"groupMembers"`
	Categories      []*Category       `json:"categories"`
	Photos          []*Photo          `json:"photos"`
}

// NewChangeSet returns a ChangeSet with every list initialised empty.
func NewChangeSet() *ChangeSet {
	cs := &ChangeSet{}
	for _, d := range catalogue {
		d.initFn(cs)
	}
	return cs
}

// Add appends r to the list of kind d.
func (d Def) Add(cs *ChangeSet, r Record) {
	d.appendFn(cs, r)
}

// Len returns the number of rows of kind d in cs.
func (d Def) Len(cs *ChangeSet) int {
	return d.countFn(cs)
}

// Total returns the number of rows across all kinds.
func (cs *ChangeSet) Total() int {
	n := 0
	for _, d := range catalogue {
		n += d.countFn(cs)
	}
	return n
}
