package ws

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hostcloudpe/notihub/internal/storage/memory"
	"github.com/hostcloudpe/notihub/internal/syncer"
	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/hub"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
)

// fakeSocket scripts inbound frames and records everything written back.
type fakeSocket struct {
	mu     sync.Mutex
	id     string
	frames [][]byte
	writes [][]byte
	closed bool
}

func (f *fakeSocket) ConnectionID() string { return f.id }

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return 0, nil, io.EOF
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return 1, frame, nil
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeSocket) WritePing(data []byte) error { return nil }

func (f *fakeSocket) CloseWithStatus(code int, reason string) error { return f.Close() }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// written waits for the write pump to flush, then decodes outbound frames.
func (f *fakeSocket) written(t *testing.T, want int) []map[string]json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		f.mu.Lock()
		n := len(f.writes)
		f.mu.Unlock()
		if n >= want || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]json.RawMessage, 0, len(f.writes))
	for _, data := range f.writes {
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("malformed outbound frame %s: %v", data, err)
		}
		out = append(out, frame)
	}
	return out
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return data
}

func eventName(t *testing.T, fr map[string]json.RawMessage) string {
	t.Helper()
	var name string
	if err := json.Unmarshal(fr["event"], &name); err != nil {
		t.Fatalf("decode event name: %v", err)
	}
	return name
}

func newHandler(t *testing.T) (*Handler, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	svc, err := hub.New(hub.Dependencies{Store: s})
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	h, err := NewHandler(svc, Config{}, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h, s
}

func TestJoinDeliversSnapshotFrame(t *testing.T) {
	h, _ := newHandler(t)

	sock := &fakeSocket{id: "c1", frames: [][]byte{
		frame(t, EventJoin, map[string]any{"user_id": "42", "idproject": "7"}),
	}}
	if err := h.run(sock); err != nil {
		t.Fatalf("run: %v", err)
	}

	frames := sock.written(t, 2)
	if len(frames) < 2 {
		t.Fatalf("expected snapshot and unseen count, got %d frames", len(frames))
	}
	if name := eventName(t, frames[0]); name != syncer.EventAllNotifications {
		t.Fatalf("expected %s first, got %s", syncer.EventAllNotifications, name)
	}
	if name := eventName(t, frames[1]); name != syncer.EventUnseenCount {
		t.Fatalf("expected %s second, got %s", syncer.EventUnseenCount, name)
	}
	if !sock.closed {
		t.Fatalf("expected socket closed after session")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	h, _ := newHandler(t)

	sock := &fakeSocket{id: "c1", frames: [][]byte{
		frame(t, EventJoin, map[string]any{"user_id": "42"}),
		frame(t, EventSend, map[string]any{
			"target":  map[string]any{"type": "user", "id": "42"},
			"message": "deploy listo",
		}),
	}}
	if err := h.run(sock); err != nil {
		t.Fatalf("run: %v", err)
	}

	frames := sock.written(t, 4)
	var sawSnapshotWithBody bool
	for _, fr := range frames {
		if eventName(t, fr) != syncer.EventAllNotifications {
			continue
		}
		var records []map[string]any
		if err := json.Unmarshal(fr["payload"], &records); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if len(records) == 1 && records[0]["message"] == "deploy listo" {
			sawSnapshotWithBody = true
		}
	}
	if !sawSnapshotWithBody {
		t.Fatalf("expected a refreshed snapshot carrying the sent message")
	}
}

func TestMalformedAndUnknownFramesIgnored(t *testing.T) {
	h, _ := newHandler(t)

	sock := &fakeSocket{id: "c1", frames: [][]byte{
		[]byte("{not json"),
		frame(t, "made-up-event", map[string]any{}),
		frame(t, EventViewed, map[string]any{"user_id": ""}),
	}}
	if err := h.run(sock); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The session survives bad frames; nothing is echoed back.
	time.Sleep(20 * time.Millisecond)
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if len(sock.writes) != 0 {
		t.Fatalf("unexpected outbound frames %q", sock.writes)
	}
}

func TestLegacyMutationFieldNames(t *testing.T) {
	ctx := context.Background()
	h, s := newHandler(t)

	notifID, err := s.InsertNotification(ctx, store.InsertInput{
		Message: "pending",
		Target:  domain.Target{Type: domain.TargetUser, ID: "42"},
	})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	s.AssociateRecipients(ctx, notifID, []string{"42"})

	sock := &fakeSocket{id: "c1", frames: [][]byte{
		frame(t, EventJoin, map[string]any{"user_id": "42"}),
		frame(t, EventViewed, map[string]any{"idnotifications": notifID, "user_id": "42"}),
	}}
	if err := h.run(sock); err != nil {
		t.Fatalf("run: %v", err)
	}

	records, err := s.QueryNotifications(ctx, store.QueryFilter{UserID: "42"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || !records[0].Seen {
		t.Fatalf("expected legacy field name to mark seen, got %+v", records)
	}
}
