package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
)

// Store is a map-backed NotificationStore used by tests and the in-memory
// driver. Role/project membership is seeded through AddSubject.
type Store struct {
	mu sync.RWMutex

	notifications map[string]domain.Notification
	// notification id -> user id -> recipient row
	recipients map[string]map[string]domain.NotificationRecipient
	subjects   []domain.Subject

	// associateErrs injects per-user association failures for tests.
	associateErrs map[string]error
}

var _ store.NotificationStore = (*Store)(nil)

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		notifications: make(map[string]domain.Notification),
		recipients:    make(map[string]map[string]domain.NotificationRecipient),
		associateErrs: make(map[string]error),
	}
}

// AddSubject registers a user's role/project membership.
func (s *Store) AddSubject(userID, roleID, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject := domain.Subject{UserID: userID, RoleID: roleID, ProjectID: projectID}
	subject.EnsureID()
	s.subjects = append(s.subjects, subject)
}

// FailAssociationFor makes AssociateRecipients report err for the user.
func (s *Store) FailAssociationFor(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associateErrs[userID] = err
}

func (s *Store) QueryNotifications(ctx context.Context, filter store.QueryFilter) ([]domain.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var records []domain.NotificationRecord

	if filter.UserID != "" {
		for id, byUser := range s.recipients {
			row, ok := byUser[filter.UserID]
			if !ok {
				continue
			}
			notif, ok := s.notifications[id]
			if !ok {
				continue
			}
			if excluded(notif, filter, now) {
				continue
			}
			if filter.SeenOnly && !row.Seen {
				continue
			}
			records = append(records, record(notif, row.Seen))
		}
	} else {
		for _, notif := range s.notifications {
			if !matchesShared(notif, filter) || expired(notif, now) {
				continue
			}
			records = append(records, record(notif, false))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *Store) InsertNotification(ctx context.Context, input store.InsertInput) (string, error) {
	if err := input.Target.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	notif := domain.Notification{
		Title:      input.Title,
		Message:    input.Message,
		TargetType: input.Target.Type,
		TargetID:   input.Target.ID,
		ExpiresAt:  input.ExpiresAt,
		Metadata:   input.Metadata,
	}
	notif.EnsureID()
	now := time.Now().UTC()
	notif.CreatedAt = now
	notif.UpdatedAt = now
	s.notifications[notif.ID.String()] = notif
	return notif.ID.String(), nil
}

func (s *Store) ResolveRecipients(ctx context.Context, target domain.Target) ([]string, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target.Type == domain.TargetUser {
		return []string{target.ID}, nil
	}

	seen := make(map[string]bool)
	var users []string
	for _, subject := range s.subjects {
		match := false
		switch target.Type {
		case domain.TargetAll:
			match = true
		case domain.TargetRole:
			match = subject.RoleID == target.ID
		case domain.TargetProject:
			match = subject.ProjectID == target.ID
		}
		if match && !seen[subject.UserID] {
			seen[subject.UserID] = true
			users = append(users, subject.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) AssociateRecipients(ctx context.Context, notificationID string, userIDs []string) []store.RecipientOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]store.RecipientOutcome, 0, len(userIDs))
	for _, userID := range userIDs {
		if err := s.associateErrs[userID]; err != nil {
			outcomes = append(outcomes, store.RecipientOutcome{UserID: userID, Err: err})
			continue
		}
		byUser, ok := s.recipients[notificationID]
		if !ok {
			byUser = make(map[string]domain.NotificationRecipient)
			s.recipients[notificationID] = byUser
		}
		if _, exists := byUser[userID]; !exists {
			// Ids minted by this store are always uuids; a foreign id
			// still associates, just without a typed back-reference.
			parsed, _ := uuid.Parse(notificationID)
			row := domain.NotificationRecipient{NotificationID: parsed, UserID: userID}
			row.EnsureID()
			row.CreatedAt = time.Now().UTC()
			byUser[userID] = row
		}
		outcomes = append(outcomes, store.RecipientOutcome{UserID: userID})
	}
	return outcomes
}

func (s *Store) MarkSeen(ctx context.Context, notificationID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.recipients[notificationID][userID]
	if !ok {
		return store.ErrNotFound
	}
	if row.Seen {
		return nil
	}
	row.Seen = true
	row.SeenAt = time.Now().UTC()
	row.UpdatedAt = row.SeenAt
	s.recipients[notificationID][userID] = row
	return nil
}

func (s *Store) DeleteNotification(ctx context.Context, notificationID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.recipients[notificationID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := byUser[userID]; !ok {
		return store.ErrNotFound
	}
	delete(byUser, userID)
	return nil
}

func (s *Store) CountUnseen(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, byUser := range s.recipients {
		if row, ok := byUser[userID]; ok && !row.Seen {
			count++
		}
	}
	return count, nil
}

// excluded filters a user-scoped row by the secondary project restriction:
// rows targeting a different project than the requested one drop out, rows
// targeting the user, a role, or everyone stay.
func excluded(notif domain.Notification, filter store.QueryFilter, now time.Time) bool {
	if expired(notif, now) {
		return true
	}
	if filter.ProjectID != "" && notif.TargetType == domain.TargetProject && notif.TargetID != filter.ProjectID {
		return true
	}
	return false
}

func matchesShared(notif domain.Notification, filter store.QueryFilter) bool {
	switch {
	case filter.RoleID != "":
		return notif.TargetType == domain.TargetRole && notif.TargetID == filter.RoleID
	case filter.ProjectID != "":
		return notif.TargetType == domain.TargetProject && notif.TargetID == filter.ProjectID
	case filter.BroadcastOnly:
		return notif.TargetType == domain.TargetAll
	default:
		return false
	}
}

func expired(notif domain.Notification, now time.Time) bool {
	return !notif.ExpiresAt.IsZero() && notif.ExpiresAt.Before(now)
}

func record(notif domain.Notification, seen bool) domain.NotificationRecord {
	return domain.NotificationRecord{
		ID:        notif.ID.String(),
		Title:     notif.Title,
		Message:   notif.Message,
		Target:    notif.Target(),
		Seen:      seen,
		CreatedAt: notif.CreatedAt,
		ExpiresAt: notif.ExpiresAt,
	}
}
