package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordMeta captures identifiers and audit fields shared across entities.
type RecordMeta struct {
	ID        uuid.UUID `bun:",pk,type:uuid" json:"id"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt time.Time `bun:",soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureID assigns a UUID when the struct is about to be persisted.
func (m *RecordMeta) EnsureID() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
}

// JSONMap persists arbitrary metadata fields as JSON.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if m == nil {
		return errors.New("JSONMap: Scan on nil pointer")
	}
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("JSONMap: unsupported type %T", value)
	}
}

// TargetType enumerates the addressing schemes a notification can use.
type TargetType string

const (
	TargetUser    TargetType = "user"
	TargetRole    TargetType = "role"
	TargetProject TargetType = "project"
	TargetAll     TargetType = "all"
)

// Target addresses a notification at a user, role, project, or everyone.
type Target struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id,omitempty"`
}

// Validate checks the descriptor names a known type and, unless broadcast,
// carries an identifier.
func (t Target) Validate() error {
	switch t.Type {
	case TargetAll:
		return nil
	case TargetUser, TargetRole, TargetProject:
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("domain: target %s requires an id", t.Type)
		}
		return nil
	default:
		return fmt.Errorf("domain: unknown target type %q", t.Type)
	}
}

// Notification is the persisted message body plus its target descriptor.
// Per-recipient read state lives on NotificationRecipient.
type Notification struct {
	bun.BaseModel `bun:"table:notifications"`
	RecordMeta

	Title      string     `bun:",nullzero" json:"title"`
	Message    string     `bun:",notnull" json:"message"`
	TargetType TargetType `bun:",notnull" json:"target_type"`
	TargetID   string     `bun:",nullzero" json:"target_id"`
	ExpiresAt  time.Time  `bun:",nullzero" json:"expires_at,omitempty"`
	Metadata   JSONMap    `bun:"type:jsonb,nullzero" json:"metadata,omitempty"`
}

// Target reassembles the descriptor from the stored columns.
func (n *Notification) Target() Target {
	return Target{Type: n.TargetType, ID: n.TargetID}
}

// NotificationRecipient links a notification to one user that must see it and
// carries that user's seen flag.
type NotificationRecipient struct {
	bun.BaseModel `bun:"table:notification_recipients"`
	RecordMeta

	NotificationID uuid.UUID `bun:",notnull,type:uuid" json:"notification_id"`
	UserID         string    `bun:",notnull" json:"user_id"`
	Seen           bool      `bun:",notnull,default:false" json:"seen"`
	SeenAt         time.Time `bun:",nullzero" json:"seen_at,omitempty"`
}

// Subject records a user's role and project memberships. Store adapters use
// it to materialize role/project/all fan-out into recipient rows.
type Subject struct {
	bun.BaseModel `bun:"table:subjects"`
	RecordMeta

	UserID    string `bun:",notnull" json:"user_id"`
	RoleID    string `bun:",nullzero" json:"role_id,omitempty"`
	ProjectID string `bun:",nullzero" json:"project_id,omitempty"`
}

// NotificationRecord is the joined, per-recipient read of a notification as
// returned by store queries: notification fields plus that user's seen flag.
// The ID is opaque text so adapters backed by external APIs can pass their
// native identifiers through unchanged.
type NotificationRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Target    Target    `json:"target"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
