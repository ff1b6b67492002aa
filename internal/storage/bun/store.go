package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
)

// Store is the bun-backed NotificationStore. It owns three tables:
// notifications, notification_recipients, and subjects (role/project
// membership used to materialize fan-out).
type Store struct {
	db            *bun.DB
	notifications repository.Repository[*domain.Notification]
	recipients    repository.Repository[*domain.NotificationRecipient]
	subjects      repository.Repository[*domain.Subject]
}

var _ store.NotificationStore = (*Store)(nil)

// NewStore wires repositories over an existing bun DB.
func NewStore(db *bun.DB) *Store {
	return &Store{
		db: db,
		notifications: repository.MustNewRepository[*domain.Notification](db, repository.ModelHandlers[*domain.Notification]{
			NewRecord:          func() *domain.Notification { return &domain.Notification{} },
			GetID:              func(n *domain.Notification) uuid.UUID { return n.ID },
			SetID:              func(n *domain.Notification, id uuid.UUID) { n.ID = id },
			GetIdentifier:      func() string { return "id" },
			GetIdentifierValue: func(n *domain.Notification) string { return n.ID.String() },
		}),
		recipients: repository.MustNewRepository[*domain.NotificationRecipient](db, repository.ModelHandlers[*domain.NotificationRecipient]{
			NewRecord:          func() *domain.NotificationRecipient { return &domain.NotificationRecipient{} },
			GetID:              func(r *domain.NotificationRecipient) uuid.UUID { return r.ID },
			SetID:              func(r *domain.NotificationRecipient, id uuid.UUID) { r.ID = id },
			GetIdentifier:      func() string { return "id" },
			GetIdentifierValue: func(r *domain.NotificationRecipient) string { return r.ID.String() },
		}),
		subjects: repository.MustNewRepository[*domain.Subject](db, repository.ModelHandlers[*domain.Subject]{
			NewRecord:          func() *domain.Subject { return &domain.Subject{} },
			GetID:              func(s *domain.Subject) uuid.UUID { return s.ID },
			SetID:              func(s *domain.Subject, id uuid.UUID) { s.ID = id },
			GetIdentifier:      func() string { return "id" },
			GetIdentifierValue: func(s *domain.Subject) string { return s.ID.String() },
		}),
	}
}

// recordRow scans the notification/recipient join.
type recordRow struct {
	ID         uuid.UUID `bun:"id,type:uuid"`
	Title      string    `bun:"title"`
	Message    string    `bun:"message"`
	TargetType string    `bun:"target_type"`
	TargetID   string    `bun:"target_id"`
	Seen       bool      `bun:"seen"`
	CreatedAt  time.Time `bun:"created_at"`
	ExpiresAt  time.Time `bun:"expires_at"`
}

func (s *Store) QueryNotifications(ctx context.Context, filter store.QueryFilter) ([]domain.NotificationRecord, error) {
	now := time.Now().UTC()
	var rows []recordRow

	if filter.UserID != "" {
		q := s.db.NewSelect().
			TableExpr("notifications AS n").
			ColumnExpr("n.id, n.title, n.message, n.target_type, n.target_id, n.created_at, n.expires_at, r.seen").
			Join("JOIN notification_recipients AS r ON r.notification_id = n.id").
			Where("r.user_id = ?", filter.UserID).
			Where("n.deleted_at IS NULL").
			Where("r.deleted_at IS NULL").
			Where("n.expires_at IS NULL OR n.expires_at > ?", now)
		if filter.ProjectID != "" {
			q = q.Where("n.target_type != ? OR n.target_id = ?", domain.TargetProject, filter.ProjectID)
		}
		if filter.SeenOnly {
			q = q.Where("r.seen")
		}
		q = q.OrderExpr("n.created_at DESC")
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if err := q.Scan(ctx, &rows); err != nil {
			return nil, fmt.Errorf("bunstore: query notifications: %w", err)
		}
	} else {
		q := s.db.NewSelect().
			TableExpr("notifications AS n").
			ColumnExpr("n.id, n.title, n.message, n.target_type, n.target_id, n.created_at, n.expires_at, FALSE AS seen").
			Where("n.deleted_at IS NULL").
			Where("n.expires_at IS NULL OR n.expires_at > ?", now)
		switch {
		case filter.RoleID != "":
			q = q.Where("n.target_type = ?", domain.TargetRole).Where("n.target_id = ?", filter.RoleID)
		case filter.ProjectID != "":
			q = q.Where("n.target_type = ?", domain.TargetProject).Where("n.target_id = ?", filter.ProjectID)
		case filter.BroadcastOnly:
			q = q.Where("n.target_type = ?", domain.TargetAll)
		default:
			return nil, nil
		}
		q = q.OrderExpr("n.created_at DESC")
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if err := q.Scan(ctx, &rows); err != nil {
			return nil, fmt.Errorf("bunstore: query notifications: %w", err)
		}
	}

	records := make([]domain.NotificationRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.NotificationRecord{
			ID:      row.ID.String(),
			Title:   row.Title,
			Message: row.Message,
			Target: domain.Target{
				Type: domain.TargetType(row.TargetType),
				ID:   row.TargetID,
			},
			Seen:      row.Seen,
			CreatedAt: row.CreatedAt,
			ExpiresAt: row.ExpiresAt,
		})
	}
	return records, nil
}

func (s *Store) InsertNotification(ctx context.Context, input store.InsertInput) (string, error) {
	if err := input.Target.Validate(); err != nil {
		return "", err
	}
	notif := &domain.Notification{
		Title:      input.Title,
		Message:    input.Message,
		TargetType: input.Target.Type,
		TargetID:   input.Target.ID,
		ExpiresAt:  input.ExpiresAt,
		Metadata:   input.Metadata,
	}
	stampForInsert(&notif.RecordMeta)
	if _, err := s.notifications.Create(ctx, notif); err != nil {
		return "", fmt.Errorf("bunstore: insert notification: %w", err)
	}
	return notif.ID.String(), nil
}

func (s *Store) ResolveRecipients(ctx context.Context, target domain.Target) ([]string, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if target.Type == domain.TargetUser {
		return []string{target.ID}, nil
	}

	q := s.db.NewSelect().
		Model((*domain.Subject)(nil)).
		ColumnExpr("DISTINCT user_id").
		Where("deleted_at IS NULL").
		OrderExpr("user_id ASC")
	switch target.Type {
	case domain.TargetRole:
		q = q.Where("role_id = ?", target.ID)
	case domain.TargetProject:
		q = q.Where("project_id = ?", target.ID)
	}

	var users []string
	if err := q.Scan(ctx, &users); err != nil {
		return nil, fmt.Errorf("bunstore: resolve recipients: %w", err)
	}
	return users, nil
}

func (s *Store) AssociateRecipients(ctx context.Context, notificationID string, userIDs []string) []store.RecipientOutcome {
	notifID, err := uuid.Parse(notificationID)
	outcomes := make([]store.RecipientOutcome, 0, len(userIDs))
	for _, userID := range userIDs {
		if err != nil {
			outcomes = append(outcomes, store.RecipientOutcome{UserID: userID, Err: store.ErrNotFound})
			continue
		}
		outcomes = append(outcomes, store.RecipientOutcome{
			UserID: userID,
			Err:    s.associateOne(ctx, notifID, userID),
		})
	}
	return outcomes
}

func (s *Store) associateOne(ctx context.Context, notificationID uuid.UUID, userID string) error {
	exists, err := s.db.NewSelect().
		Model((*domain.NotificationRecipient)(nil)).
		Where("notification_id = ?", notificationID).
		Where("user_id = ?", userID).
		Where("deleted_at IS NULL").
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("bunstore: check association: %w", err)
	}
	if exists {
		return nil
	}
	row := &domain.NotificationRecipient{
		NotificationID: notificationID,
		UserID:         userID,
	}
	stampForInsert(&row.RecordMeta)
	if _, err := s.recipients.Create(ctx, row); err != nil {
		return fmt.Errorf("bunstore: associate recipient: %w", err)
	}
	return nil
}

func (s *Store) MarkSeen(ctx context.Context, notificationID string, userID string) error {
	notifID, err := uuid.Parse(notificationID)
	if err != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*domain.NotificationRecipient)(nil)).
		Set("seen = ?", true).
		Set("seen_at = ?", now).
		Set("updated_at = ?", now).
		Where("notification_id = ?", notifID).
		Where("user_id = ?", userID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bunstore: mark seen: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) DeleteNotification(ctx context.Context, notificationID string, userID string) error {
	notifID, err := uuid.Parse(notificationID)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.db.NewDelete().
		Model((*domain.NotificationRecipient)(nil)).
		Where("notification_id = ?", notifID).
		Where("user_id = ?", userID).
		ForceDelete().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bunstore: delete notification: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) CountUnseen(ctx context.Context, userID string) (int, error) {
	count, err := s.db.NewSelect().
		TableExpr("notification_recipients AS r").
		Join("JOIN notifications AS n ON n.id = r.notification_id").
		Where("r.user_id = ?", userID).
		Where("NOT r.seen").
		Where("r.deleted_at IS NULL").
		Where("n.deleted_at IS NULL").
		Where("n.expires_at IS NULL OR n.expires_at > ?", time.Now().UTC()).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("bunstore: count unseen: %w", err)
	}
	return count, nil
}

// AddSubject persists a membership row. Used by seeding and tests; the hub
// itself never writes subjects.
func (s *Store) AddSubject(ctx context.Context, userID, roleID, projectID string) error {
	subject := &domain.Subject{UserID: userID, RoleID: roleID, ProjectID: projectID}
	stampForInsert(&subject.RecordMeta)
	if _, err := s.subjects.Create(ctx, subject); err != nil {
		return fmt.Errorf("bunstore: add subject: %w", err)
	}
	return nil
}

func stampForInsert(meta *domain.RecordMeta) {
	meta.EnsureID()
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bunstore: rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
