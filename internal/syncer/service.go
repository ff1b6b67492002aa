package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostcloudpe/notihub/internal/channels"
	"github.com/hostcloudpe/notihub/internal/registry"
	"github.com/hostcloudpe/notihub/internal/reltime"
	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

// Outbound event names.
const (
	EventAllNotifications    = "all-notifications"
	EventNotificationUpdated = "notification-updated"
	EventNotificationDeleted = "notification-deleted"
	EventUnseenCount         = "unseen-count"
)

// ErrInvalidPayload marks an inbound payload missing required identifiers.
// Transports log and drop these without echoing an error to the sender.
var ErrInvalidPayload = errors.New("syncer: invalid payload")

// JoinPayload carries the identifiers a connecting client subscribes with.
type JoinPayload struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
}

// SendPayload describes a new notification to persist and fan out.
type SendPayload struct {
	Target    domain.Target  `json:"target"`
	Message   string         `json:"message"`
	Title     string         `json:"title,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	Metadata  domain.JSONMap `json:"metadata,omitempty"`
}

// ViewedPayload marks one notification seen for one user.
type ViewedPayload struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
}

// DeletePayload removes one notification from one user's list.
type DeletePayload struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
}

// FormattedNotification is the client-facing record: the stored absolute
// timestamp is replaced by a relative phrase, all other fields pass through.
type FormattedNotification struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Message   string        `json:"message"`
	Target    domain.Target `json:"target"`
	Seen      bool          `json:"seen"`
	CreatedAt string        `json:"created_at"`
}

// Dependencies wires the registry, router, store adapter, and clock into the
// service. Passing them explicitly keeps workflows testable without a live
// socket or database.
type Dependencies struct {
	Registry  *registry.Registry
	Router    *channels.Router
	Store     store.NotificationStore
	Formatter *reltime.Formatter
	Logger    logger.Logger
	Clock     func() time.Time
}

// Service orchestrates the join and mutate workflows: it keeps each client's
// notification list synchronized with the store and fans out refreshed
// snapshots to exactly the channels a change implies.
//
// Workflows never cache notification content: every delivery reads fresh
// state from the store immediately before broadcasting.
type Service struct {
	registry  *registry.Registry
	router    *channels.Router
	store     store.NotificationStore
	formatter *reltime.Formatter
	logger    logger.Logger
	clock     func() time.Time
}

var (
	errRegistryRequired  = errors.New("syncer: registry is required")
	errRouterRequired    = errors.New("syncer: router is required")
	errStoreRequired     = errors.New("syncer: store adapter is required")
	errFormatterRequired = errors.New("syncer: formatter is required")
)

// NewService constructs the synchronizer.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Registry == nil {
		return nil, errRegistryRequired
	}
	if deps.Router == nil {
		return nil, errRouterRequired
	}
	if deps.Store == nil {
		return nil, errStoreRequired
	}
	if deps.Formatter == nil {
		return nil, errFormatterRequired
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		registry:  deps.Registry,
		router:    deps.Router,
		store:     deps.Store,
		formatter: deps.Formatter,
		logger:    deps.Logger,
		clock:     deps.Clock,
	}, nil
}

// Join registers the connection under its derived channels, reads the
// user's current list, and unicasts the formatted snapshot to the joining
// connection only. A fetch failure delivers nothing; the client may re-join.
func (s *Service) Join(ctx context.Context, conn transport.Connection, payload JoinPayload) error {
	if conn == nil {
		return fmt.Errorf("%w: connection is required", ErrInvalidPayload)
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		s.logger.Warn("join dropped: missing user_id", logger.F("conn_id", conn.ID()))
		return fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}

	s.registry.Register(conn, channels.ForUser(userID))
	if projectID := strings.TrimSpace(payload.ProjectID); projectID != "" {
		s.registry.Register(conn, channels.ForProject(projectID))
	}
	if roleID := strings.TrimSpace(payload.RoleID); roleID != "" {
		s.registry.Register(conn, channels.ForRole(roleID))
	}
	s.registry.Register(conn, channels.All)

	records, err := s.store.QueryNotifications(ctx, store.QueryFilter{
		UserID:    userID,
		ProjectID: strings.TrimSpace(payload.ProjectID),
	})
	if err != nil {
		s.logger.Error("join fetch failed",
			logger.F("user_id", userID),
			logger.F("error", err))
		return nil
	}

	s.router.EmitTo(conn, transport.Event{Name: EventAllNotifications, Payload: s.format(records)})
	s.emitUnseenCount(ctx, conn, userID)
	return nil
}

// Send persists a notification, associates its recipients through the
// explicit batch, and broadcasts a fresh snapshot to every implied channel.
// Partial recipient failures are logged and never abort the rest.
func (s *Service) Send(ctx context.Context, payload SendPayload) error {
	if err := payload.Target.Validate(); err != nil {
		s.logger.Warn("send dropped: invalid target", logger.F("error", err))
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(payload.Message) == "" {
		s.logger.Warn("send dropped: empty message", logger.F("target", payload.Target))
		return fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}

	notifID, err := s.store.InsertNotification(ctx, store.InsertInput{
		Title:     payload.Title,
		Message:   payload.Message,
		Target:    payload.Target,
		ExpiresAt: payload.ExpiresAt,
		Metadata:  payload.Metadata,
	})
	if err != nil {
		s.logger.Error("send insert failed",
			logger.F("target", payload.Target),
			logger.F("error", err))
		return fmt.Errorf("syncer: insert notification: %w", err)
	}

	recipients, err := s.store.ResolveRecipients(ctx, payload.Target)
	if err != nil {
		s.logger.Error("send recipient resolution failed",
			logger.F("notification_id", notifID),
			logger.F("error", err))
		return fmt.Errorf("syncer: resolve recipients: %w", err)
	}

	failed := 0
	for _, outcome := range s.store.AssociateRecipients(ctx, notifID, recipients) {
		if outcome.Failed() {
			failed++
			s.logger.Warn("recipient association failed",
				logger.F("notification_id", notifID),
				logger.F("user_id", outcome.UserID),
				logger.F("error", outcome.Err))
		}
	}
	if failed > 0 {
		s.logger.Warn("partial fan-out",
			logger.F("notification_id", notifID),
			logger.F("failed", failed),
			logger.F("total", len(recipients)))
	}

	s.resync(ctx, payload.Target)
	return nil
}

// MarkSeen flips the seen flag for one (notification, user) pair, then
// re-broadcasts that user's refreshed snapshot. The originating connection
// additionally receives a notification-updated acknowledgment.
func (s *Service) MarkSeen(ctx context.Context, conn transport.Connection, payload ViewedPayload) error {
	notifID, userID, err := mutationIDs(payload.NotificationID, payload.UserID)
	if err != nil {
		s.logger.Warn("viewed dropped: invalid payload", logger.F("error", err))
		return err
	}

	if err := s.store.MarkSeen(ctx, notifID, userID); err != nil {
		s.logger.Error("mark seen failed",
			logger.F("notification_id", notifID),
			logger.F("user_id", userID),
			logger.F("error", err))
		return fmt.Errorf("syncer: mark seen: %w", err)
	}

	if conn != nil {
		s.router.EmitTo(conn, transport.Event{
			Name:    EventNotificationUpdated,
			Payload: map[string]any{"id": notifID, "seen": true},
		})
	}
	s.resync(ctx, domain.Target{Type: domain.TargetUser, ID: userID})
	return nil
}

// Delete removes one notification from one user's list and re-broadcasts
// that user's refreshed snapshot.
func (s *Service) Delete(ctx context.Context, conn transport.Connection, payload DeletePayload) error {
	notifID, userID, err := mutationIDs(payload.NotificationID, payload.UserID)
	if err != nil {
		s.logger.Warn("delete dropped: invalid payload", logger.F("error", err))
		return err
	}

	if err := s.store.DeleteNotification(ctx, notifID, userID); err != nil {
		s.logger.Error("delete failed",
			logger.F("notification_id", notifID),
			logger.F("user_id", userID),
			logger.F("error", err))
		return fmt.Errorf("syncer: delete notification: %w", err)
	}

	if conn != nil {
		s.router.EmitTo(conn, transport.Event{
			Name:    EventNotificationDeleted,
			Payload: map[string]any{"id": notifID},
		})
	}
	s.resync(ctx, domain.Target{Type: domain.TargetUser, ID: userID})
	return nil
}

// Disconnect clears every channel membership the connection held. Workflows
// already in flight complete; only this connection's deliveries stop.
func (s *Service) Disconnect(conn transport.Connection) {
	if conn == nil {
		return
	}
	s.registry.UnregisterAll(conn)
}

// resync re-reads the store for the affected target and broadcasts the full
// formatted snapshot to every channel the target implies. Always a full
// snapshot, never a delta: bandwidth traded for the absence of client-side
// merge bugs.
func (s *Service) resync(ctx context.Context, target domain.Target) {
	records, err := s.store.QueryNotifications(ctx, filterFor(target))
	if err != nil {
		s.logger.Error("resync fetch failed",
			logger.F("target", target),
			logger.F("error", err))
		return
	}
	event := transport.Event{Name: EventAllNotifications, Payload: s.format(records)}
	for _, channel := range channels.Resolve(target) {
		s.router.Broadcast(channel, event)
	}
	if target.Type == domain.TargetUser {
		for _, conn := range s.registry.MembersOf(channels.ForUser(target.ID)) {
			s.emitUnseenCount(ctx, conn, target.ID)
		}
	}
}

// format replaces each record's absolute timestamp with the relative phrase.
// "now" is sampled once so the whole snapshot refers to the same instant.
func (s *Service) format(records []domain.NotificationRecord) []FormattedNotification {
	now := s.clock()
	out := make([]FormattedNotification, 0, len(records))
	for _, rec := range records {
		out = append(out, FormattedNotification{
			ID:        rec.ID,
			Title:     rec.Title,
			Message:   rec.Message,
			Target:    rec.Target,
			Seen:      rec.Seen,
			CreatedAt: s.formatter.Format(rec.CreatedAt, now),
		})
	}
	return out
}

func (s *Service) emitUnseenCount(ctx context.Context, conn transport.Connection, userID string) {
	count, err := s.store.CountUnseen(ctx, userID)
	if err != nil {
		s.logger.Warn("unseen count failed",
			logger.F("user_id", userID),
			logger.F("error", err))
		return
	}
	s.router.EmitTo(conn, transport.Event{
		Name:    EventUnseenCount,
		Payload: map[string]any{"user_id": userID, "count": count},
	})
}

func filterFor(target domain.Target) store.QueryFilter {
	switch target.Type {
	case domain.TargetUser:
		return store.QueryFilter{UserID: target.ID}
	case domain.TargetRole:
		return store.QueryFilter{RoleID: target.ID}
	case domain.TargetProject:
		return store.QueryFilter{ProjectID: target.ID}
	default:
		return store.QueryFilter{BroadcastOnly: true}
	}
}

func mutationIDs(rawNotificationID, rawUserID string) (string, string, error) {
	userID := strings.TrimSpace(rawUserID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	notifID := strings.TrimSpace(rawNotificationID)
	if notifID == "" {
		return "", "", fmt.Errorf("%w: notification_id is required", ErrInvalidPayload)
	}
	return notifID, userID, nil
}
