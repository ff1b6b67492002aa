package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hostcloudpe/notihub/pkg/domain"
)

// ErrNotFound is returned when a record cannot be located.
var ErrNotFound = errors.New("store: not found")

// QueryFilter scopes a notification read to the identifiers carried by a
// join or resync request. Zero fields are ignored.
type QueryFilter struct {
	UserID    string
	ProjectID string
	RoleID    string
	// BroadcastOnly restricts the read to notifications targeted at
	// everyone; used when resyncing the "all" channel.
	BroadcastOnly bool
	SeenOnly      bool
	Limit         int
}

// InsertInput captures the fields required to persist a new notification.
type InsertInput struct {
	Title     string
	Message   string
	Target    domain.Target
	ExpiresAt time.Time
	Metadata  domain.JSONMap
}

// RecipientOutcome reports the result of one recipient association inside a
// batch. A nil Err means the row was written.
type RecipientOutcome struct {
	UserID string
	Err    error
}

// Failed reports whether this recipient's association was not persisted.
func (o RecipientOutcome) Failed() bool { return o.Err != nil }

// NotificationStore is the boundary to whatever system of record persists
// notifications. The core never mutates records directly; it issues these
// commands and treats the results as authoritative.
//
// Failures surface as error returns or per-recipient outcomes, never as
// panics that could take down the dispatcher.
type NotificationStore interface {
	// QueryNotifications returns the records matching the filter, most
	// recent first, with the seen flag scoped to filter.UserID.
	QueryNotifications(ctx context.Context, filter QueryFilter) ([]domain.NotificationRecord, error)

	// InsertNotification persists the notification body and target and
	// returns the store-assigned identifier. Recipient rows are written
	// separately via AssociateRecipients.
	InsertNotification(ctx context.Context, input InsertInput) (string, error)

	// ResolveRecipients expands a target descriptor into the user ids that
	// must see it: the single user for user targets, membership of the role
	// or project otherwise, every known user for broadcast.
	ResolveRecipients(ctx context.Context, target domain.Target) ([]string, error)

	// AssociateRecipients writes one recipient row per user id and reports
	// each outcome independently. One failed row must not abort the rest.
	AssociateRecipients(ctx context.Context, notificationID string, userIDs []string) []RecipientOutcome

	// MarkSeen flips the seen flag for exactly one (notification, user)
	// pair. Marking an already-seen pair is a no-op.
	MarkSeen(ctx context.Context, notificationID string, userID string) error

	// DeleteNotification removes the recipient row for the given user. The
	// notification body stays while other recipients still reference it.
	DeleteNotification(ctx context.Context, notificationID string, userID string) error

	// CountUnseen returns the number of unseen notifications for a user.
	CountUnseen(ctx context.Context, userID string) (int, error)
}

// RawSubmitter forwards an opaque payload to the backing store unmodified.
// Only remote backends implement it; it backs the synchronous proxy route.
type RawSubmitter interface {
	SubmitRaw(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}
