package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/hostcloudpe/notihub/internal/storage/memory"
	"github.com/hostcloudpe/notihub/internal/syncer"
	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

type fakeConn struct {
	mu     sync.Mutex
	id     string
	events []transport.Event
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event transport.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) named(name string) []transport.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []transport.Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	svc, err := New(Dependencies{Store: s})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	return svc, s
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestJoinSendRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conn := &fakeConn{id: "c1"}
	if err := svc.Join(ctx, conn, JoinPayload{UserID: "42", ProjectID: "7"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(conn.named(syncer.EventAllNotifications)) != 1 {
		t.Fatalf("expected initial snapshot on join")
	}

	err := svc.Send(ctx, SendPayload{
		Target:  domain.Target{Type: domain.TargetUser, ID: "42"},
		Message: "backup completo",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	snaps := conn.named(syncer.EventAllNotifications)
	last := snaps[len(snaps)-1]
	encoded, _ := json.Marshal(last.Payload)
	var records []map[string]any
	if err := json.Unmarshal(encoded, &records); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(records) != 1 || records[0]["message"] != "backup completo" {
		t.Fatalf("unexpected snapshot %s", encoded)
	}

	svc.Disconnect(conn)
}

func TestNilServiceIsSafe(t *testing.T) {
	var svc *Service
	if err := svc.Send(context.Background(), SendPayload{}); err == nil {
		t.Fatalf("expected not-initialised error")
	}
	svc.Disconnect(nil)
}
