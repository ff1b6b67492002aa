package restproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
	"github.com/hostcloudpe/notihub/pkg/retry"
)

// controllerStub records each decoded request body and replies per mode.
type controllerStub struct {
	t        *testing.T
	requests []map[string]any
	respond  map[string]string
}

func (c *controllerStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			c.t.Fatalf("stub decode: %v", err)
		}
		c.requests = append(c.requests, body)

		mode, _ := body["mode"].(string)
		w.Header().Set("Content-Type", "application/json")
		if resp, ok := c.respond[mode]; ok {
			w.Write([]byte(resp))
			return
		}
		w.Write([]byte(`{"success":true}`))
	}
}

func (c *controllerStub) last() map[string]any {
	if len(c.requests) == 0 {
		c.t.Fatalf("no request captured")
	}
	return c.requests[len(c.requests)-1]
}

func newProxy(t *testing.T, stub *controllerStub) *Store {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	s, err := New(nil, WithConfig(Config{URL: srv.URL}), WithClient(srv.Client()))
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	return s
}

func TestQuerySendsSelectMode(t *testing.T) {
	stub := &controllerStub{t: t, respond: map[string]string{
		"select_notifications_project": `{
			"notifications": {"data": [
				{"idnotifications": 9, "mensaje_notif": "deploy listo", "title_notif": "Deploy",
				 "user_id": "42", "seen": "0", "created_at": "2026-08-29 10:00:00"},
				{"idnotifications": "10", "mensaje_notif": "vencida", "user_id": "42",
				 "seen": 1, "created_at": "2026-01-01 10:00:00",
				 "fecha_vencimiento": "2026-01-02 00:00:00"}
			]}
		}`,
	}}
	s := newProxy(t, stub)

	records, err := s.QueryNotifications(context.Background(), store.QueryFilter{UserID: "42", ProjectID: "7"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	req := stub.last()
	if req["mode"] != "select_notifications_project" || req["user_id"] != "42" || req["idproject"] != "7" {
		t.Fatalf("unexpected upstream request %+v", req)
	}

	// The expired second row drops out; the numeric id arrives as text.
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %+v", records)
	}
	if records[0].ID != "9" || records[0].Message != "deploy listo" || records[0].Seen {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if records[0].CreatedAt.IsZero() {
		t.Fatalf("expected parsed created_at")
	}
}

func TestQueryWithoutUserIsEmpty(t *testing.T) {
	stub := &controllerStub{t: t}
	s := newProxy(t, stub)

	records, err := s.QueryNotifications(context.Background(), store.QueryFilter{RoleID: "ops"})
	if err != nil || records != nil {
		t.Fatalf("expected empty result, got %v, %v", records, err)
	}
	if len(stub.requests) != 0 {
		t.Fatalf("role filters must not hit the upstream")
	}
}

func TestInsertSendsInsertMode(t *testing.T) {
	stub := &controllerStub{t: t, respond: map[string]string{
		"insert_notifications": `{"success": true, "notification": {"idnotifications": 77}}`,
	}}
	s := newProxy(t, stub)

	id, err := s.InsertNotification(context.Background(), store.InsertInput{
		Title:   "Aviso",
		Message: "backup completo",
		Target:  domain.Target{Type: domain.TargetProject, ID: "7"},
		Metadata: domain.JSONMap{
			"type":         "info",
			"project_name": "killky",
		},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != "77" {
		t.Fatalf("expected upstream id, got %q", id)
	}

	req := stub.last()
	if req["mode"] != "insert_notifications" || req["mensaje_notif"] != "backup completo" {
		t.Fatalf("unexpected upstream request %+v", req)
	}
	if req["project_id"] != "7" || req["type_notif"] != "info" || req["name_project"] != "killky" {
		t.Fatalf("unexpected addressing fields %+v", req)
	}
}

func TestInsertRejectsRoleTargets(t *testing.T) {
	stub := &controllerStub{t: t}
	s := newProxy(t, stub)

	_, err := s.InsertNotification(context.Background(), store.InsertInput{
		Message: "m",
		Target:  domain.Target{Type: domain.TargetRole, ID: "ops"},
	})
	if err == nil {
		t.Fatalf("expected error for role target")
	}
	if len(stub.requests) != 0 {
		t.Fatalf("rejected insert must not hit the upstream")
	}
}

func TestMarkSeenSendsUpdateMode(t *testing.T) {
	stub := &controllerStub{t: t}
	s := newProxy(t, stub)

	if err := s.MarkSeen(context.Background(), "9", "42"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	req := stub.last()
	if req["mode"] != "update_notifications" || req["idnotifications"] != "9" || req["user_id"] != "42" {
		t.Fatalf("unexpected upstream request %+v", req)
	}
	if seen, ok := req["seen"].(float64); !ok || seen != 1 {
		t.Fatalf("expected seen=1, got %v", req["seen"])
	}
}

func TestUpstreamRejectionMapsToNotFound(t *testing.T) {
	stub := &controllerStub{t: t, respond: map[string]string{
		"delete_notifications": `{"success": false, "message": "notification not found"}`,
	}}
	s := newProxy(t, stub)

	err := s.DeleteNotification(context.Background(), "404", "42")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountUnseen(t *testing.T) {
	stub := &controllerStub{t: t, respond: map[string]string{
		"select_notifications_project": `{
			"notifications": {"data": [
				{"idnotifications": 1, "mensaje_notif": "a", "user_id": "42", "seen": 0, "created_at": "2026-08-29 10:00:00"},
				{"idnotifications": 2, "mensaje_notif": "b", "user_id": "42", "seen": "1", "created_at": "2026-08-29 10:01:00"},
				{"idnotifications": 3, "mensaje_notif": "c", "user_id": "42", "seen": false, "created_at": "2026-08-29 10:02:00"}
			]}
		}`,
	}}
	s := newProxy(t, stub)

	count, err := s.CountUnseen(context.Background(), "42")
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v", count, err)
	}
}

func TestSubmitRawPassesThrough(t *testing.T) {
	stub := &controllerStub{t: t, respond: map[string]string{
		"describe_notifications": `{"columns": ["idnotifications", "mensaje_notif"]}`,
	}}
	s := newProxy(t, stub)

	out, err := s.SubmitRaw(context.Background(), json.RawMessage(`{"mode":"describe_notifications"}`))
	if err != nil {
		t.Fatalf("submit raw: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode passthrough: %v", err)
	}
	if _, ok := decoded["columns"]; !ok {
		t.Fatalf("expected upstream body untouched, got %s", out)
	}
	if stub.last()["mode"] != "describe_notifications" {
		t.Fatalf("unexpected upstream request %+v", stub.last())
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)

	s, err := New(nil,
		WithConfig(Config{URL: srv.URL}),
		WithClient(srv.Client()),
		WithBackoff(retry.ExponentialBackoff{Base: time.Millisecond, Max: time.Millisecond}))
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}

	if err := s.MarkSeen(context.Background(), "9", "42"); err != nil {
		t.Fatalf("mark seen after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetriesDisabled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	s, err := New(nil,
		WithConfig(Config{URL: srv.URL, Retries: -1}),
		WithClient(srv.Client()))
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}

	if err := s.MarkSeen(context.Background(), "9", "42"); err == nil {
		t.Fatal("expected a 502 error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}
