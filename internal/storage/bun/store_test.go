package bunstore

import (
	"context"
	"errors"
	"testing"

	"github.com/uptrace/bun"

	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
)

func setupStore(t *testing.T) (*Store, *bun.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func TestInsertAndQueryForUser(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	notifID, err := s.InsertNotification(ctx, store.InsertInput{
		Title:   "Deploy",
		Message: "build ready",
		Target:  domain.Target{Type: domain.TargetUser, ID: "42"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	for _, o := range s.AssociateRecipients(ctx, notifID, []string{"42"}) {
		if o.Failed() {
			t.Fatalf("associate: %v", o.Err)
		}
	}

	records, err := s.QueryNotifications(ctx, store.QueryFilter{UserID: "42"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Message != "build ready" || rec.Seen || rec.Target.ID != "42" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestAssociateIsIdempotent(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	notifID, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "m",
		Target:  domain.Target{Type: domain.TargetUser, ID: "42"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.AssociateRecipients(ctx, notifID, []string{"42"})
	s.AssociateRecipients(ctx, notifID, []string{"42"})

	records, err := s.QueryNotifications(ctx, store.QueryFilter{UserID: "42"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected single row after duplicate associate, got %d", len(records))
	}
}

func TestMarkSeenAndCount(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	notifID, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "role ping",
		Target:  domain.Target{Type: domain.TargetRole, ID: "ops"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.AssociateRecipients(ctx, notifID, []string{"u1", "u2"})

	if err := s.MarkSeen(ctx, notifID, "u1"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if err := s.MarkSeen(ctx, notifID, "u1"); err != nil {
		t.Fatalf("repeat mark seen: %v", err)
	}

	u1, _ := s.QueryNotifications(ctx, store.QueryFilter{UserID: "u1"})
	u2, _ := s.QueryNotifications(ctx, store.QueryFilter{UserID: "u2"})
	if !u1[0].Seen || u2[0].Seen {
		t.Fatalf("expected only u1 marked, got u1=%v u2=%v", u1[0].Seen, u2[0].Seen)
	}

	count, err := s.CountUnseen(ctx, "u2")
	if err != nil || count != 1 {
		t.Fatalf("count unseen = %d, %v", count, err)
	}

	seen, err := s.CountUnseen(ctx, "u1")
	if err != nil || seen != 0 {
		t.Fatalf("count unseen after seen = %d, %v", seen, err)
	}

	none, err := s.CountUnseen(ctx, "stranger")
	if err != nil || none != 0 {
		t.Fatalf("count unseen without rows = %d, %v", none, err)
	}
}

func TestMarkSeenUnknownPair(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	notifID, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "m",
		Target:  domain.Target{Type: domain.TargetUser, ID: "42"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkSeen(ctx, notifID, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRecipientsFromSubjects(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	for _, sub := range []struct{ user, role, project string }{
		{"u1", "ops", "p1"},
		{"u2", "ops", "p2"},
		{"u3", "dev", "p1"},
	} {
		if err := s.AddSubject(ctx, sub.user, sub.role, sub.project); err != nil {
			t.Fatalf("add subject: %v", err)
		}
	}

	role, err := s.ResolveRecipients(ctx, domain.Target{Type: domain.TargetRole, ID: "ops"})
	if err != nil || len(role) != 2 {
		t.Fatalf("role recipients = %v, %v", role, err)
	}
	project, err := s.ResolveRecipients(ctx, domain.Target{Type: domain.TargetProject, ID: "p1"})
	if err != nil || len(project) != 2 {
		t.Fatalf("project recipients = %v, %v", project, err)
	}
	all, err := s.ResolveRecipients(ctx, domain.Target{Type: domain.TargetAll})
	if err != nil || len(all) != 3 {
		t.Fatalf("broadcast recipients = %v, %v", all, err)
	}
}

func TestSharedViewByRole(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	if _, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "for ops",
		Target:  domain.Target{Type: domain.TargetRole, ID: "ops"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "for devs",
		Target:  domain.Target{Type: domain.TargetRole, ID: "dev"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := s.QueryNotifications(ctx, store.QueryFilter{RoleID: "ops"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].Message != "for ops" {
		t.Fatalf("unexpected shared view %+v", records)
	}
}

func TestDeleteNotificationRemovesOwnRowOnly(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	notifID, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "shared",
		Target:  domain.Target{Type: domain.TargetRole, ID: "ops"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.AssociateRecipients(ctx, notifID, []string{"u1", "u2"})

	if err := s.DeleteNotification(ctx, notifID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteNotification(ctx, notifID, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	u2, _ := s.QueryNotifications(ctx, store.QueryFilter{UserID: "u2"})
	if len(u2) != 1 {
		t.Fatalf("expected u2 row intact, got %+v", u2)
	}
}
