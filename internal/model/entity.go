package model

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
)

// EntityType identifies a kind of business record.
type EntityType string

const (
	EntityLead        EntityType = "Lead"
	EntityAccount     EntityType = "Account"
	EntityOpportunity EntityType = "Opportunity"
	EntityCase        EntityType = "Case"
)

// AllEntityTypes returns the entity types that workflows and rules can target.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityLead, EntityAccount, EntityOpportunity, EntityCase}
}

// ParseEntityType resolves a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range AllEntityTypes() {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", eris.Wrapf(ErrInvalidInput, "unknown entity type %q", s)
}

// FieldGetter reads a named field as text. The bool reports whether the
// field name is known for the record type.
type FieldGetter interface {
	Field(name string) (string, bool)
}

// Entity is a business record the engine can score, route, deduplicate,
// merge, and run workflows against.
type Entity interface {
	FieldGetter
	EntityID() string
	Type() EntityType
	DisplayName() string
	Deleted() bool
	SetField(name string, value any) error
	Touch(at time.Time)
	MarkDeleted(at time.Time)
	Metadata() *Meta
}

// Meta holds the bookkeeping columns shared by every entity type.
type Meta struct {
	ID         string     `json:"id"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	IsDeleted  bool       `json:"is_deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Metadata exposes the bookkeeping columns for stores.
func (m *Meta) Metadata() *Meta { return m }

// EntityID returns the record id.
func (m *Meta) EntityID() string { return m.ID }

// Deleted reports whether the record has been soft-deleted.
func (m *Meta) Deleted() bool { return m.IsDeleted }

// Touch stamps UpdatedAt (and CreatedAt for new records).
func (m *Meta) Touch(at time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = at
	}
	m.UpdatedAt = at
}

// MarkDeleted flags the record as soft-deleted.
func (m *Meta) MarkDeleted(at time.Time) {
	m.IsDeleted = true
	m.DeletedAt = &at
	m.UpdatedAt = at
}

// NewEntity returns an empty record of the given type.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityLead:
		return &Lead{}, nil
	case EntityAccount:
		return &Account{}, nil
	case EntityOpportunity:
		return &Opportunity{}, nil
	case EntityCase:
		return &Case{}, nil
	default:
		return nil, eris.Wrapf(ErrInvalidInput, "unknown entity type %q", t)
	}
}

// DecodeEntity unmarshals a stored JSON document into a record of type t.
func DecodeEntity(t EntityType, data []byte) (Entity, error) {
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, eris.Wrapf(err, "model: decode %s", t)
	}
	return e, nil
}

// CanonicalField converts a field name to its stored snake_case form, so
// "annualRevenue" and "annual_revenue" address the same field.
func CanonicalField(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// accessor is a typed getter/setter pair for one named field of T.
type accessor[T any] struct {
	get func(*T) string
	set func(*T, any) error
}

// fieldTable maps canonical field names to accessors.
type fieldTable[T any] map[string]accessor[T]

func (ft fieldTable[T]) get(rec *T, name string) (string, bool) {
	a, ok := ft[CanonicalField(name)]
	if !ok {
		return "", false
	}
	return a.get(rec), true
}

func (ft fieldTable[T]) set(rec *T, name string, value any) error {
	key := CanonicalField(name)
	a, ok := ft[key]
	if !ok {
		return eris.Wrapf(ErrInvalidInput, "unknown field %q", name)
	}
	if a.set == nil {
		return eris.Wrapf(ErrInvalidInput, "field %q is read-only", name)
	}
	if err := a.set(rec, value); err != nil {
		return eris.Wrapf(err, "set %s", key)
	}
	return nil
}

// withMeta adds the shared id/assigned_to accessors to a type's table.
func withMeta[T any](ft fieldTable[T], meta func(*T) *Meta) fieldTable[T] {
	ft["id"] = accessor[T]{get: func(r *T) string { return meta(r).ID }}
	ft["assigned_to"] = accessor[T]{
		get: func(r *T) string { return meta(r).AssignedTo },
		set: func(r *T, v any) error { return assignText(&meta(r).AssignedTo, v) },
	}
	return ft
}

// textField builds an accessor over a string field.
func textField[T any](ptr func(*T) *string) accessor[T] {
	return accessor[T]{
		get: func(r *T) string { return *ptr(r) },
		set: func(r *T, v any) error { return assignText(ptr(r), v) },
	}
}

// numberField builds an accessor over a float64 field. Zero reads as "".
func numberField[T any](ptr func(*T) *float64) accessor[T] {
	return accessor[T]{
		get: func(r *T) string { return formatNumber(*ptr(r)) },
		set: func(r *T, v any) error {
			f, err := ToFloat(v)
			if err != nil {
				return err
			}
			*ptr(r) = f
			return nil
		},
	}
}

// dateField builds an accessor over an optional date.
func dateField[T any](ptr func(*T) **time.Time) accessor[T] {
	return accessor[T]{
		get: func(r *T) string {
			if t := *ptr(r); t != nil {
				return t.Format(time.DateOnly)
			}
			return ""
		},
		set: func(r *T, v any) error {
			t, err := ToTime(v)
			if err != nil {
				return err
			}
			*ptr(r) = t
			return nil
		},
	}
}
