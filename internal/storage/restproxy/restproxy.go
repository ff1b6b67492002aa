// Package restproxy adapts an external mode-dispatched CRUD endpoint to the
// NotificationStore contract. Every operation is a JSON POST against a single
// controller URL; the "mode" field selects the upstream handler.
package restproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
	"github.com/hostcloudpe/notihub/pkg/retry"
)

// Upstream mode names.
const (
	modeSelect = "select_notifications_project"
	modeInsert = "insert_notifications"
	modeUpdate = "update_notifications"
	modeDelete = "delete_notifications"
)

// Config configures the proxy store.
type Config struct {
	// URL is the controller endpoint every mode posts to.
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// Retries is the number of additional attempts after a transient
	// failure (network error or 5xx). Defaults to 2; negative disables.
	Retries int
	// Zone interprets the upstream's zone-less datetime strings.
	// Defaults to America/Lima.
	Zone string
}

// Store speaks the upstream notification controller protocol. The upstream
// owns recipient materialization: an inserted row already carries its
// user/project addressing, so ResolveRecipients and AssociateRecipients
// are deliberate no-ops here.
type Store struct {
	cfg     Config
	client  *http.Client
	logger  logger.Logger
	zone    *time.Location
	backoff retry.Backoff
}

var (
	_ store.NotificationStore = (*Store)(nil)
	_ store.RawSubmitter      = (*Store)(nil)
)

type Option func(*Store)

// WithClient injects a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.client = c
		}
	}
}

// WithConfig sets the store configuration.
func WithConfig(cfg Config) Option {
	return func(s *Store) {
		s.cfg = cfg
	}
}

// WithBackoff overrides the retry delay policy.
func WithBackoff(b retry.Backoff) Option {
	return func(s *Store) {
		if b != nil {
			s.backoff = b
		}
	}
}

// New constructs the proxy store.
func New(l logger.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		logger:  l,
		backoff: retry.DefaultBackoff(),
	}
	if s.logger == nil {
		s.logger = &logger.Nop{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if strings.TrimSpace(s.cfg.URL) == "" {
		return nil, fmt.Errorf("restproxy: url is required")
	}
	if s.cfg.Zone == "" {
		s.cfg.Zone = "America/Lima"
	}
	if s.cfg.Timeout <= 0 {
		s.cfg.Timeout = 10 * time.Second
	}
	switch {
	case s.cfg.Retries == 0:
		s.cfg.Retries = 2
	case s.cfg.Retries < 0:
		s.cfg.Retries = 0
	}
	zone, err := time.LoadLocation(s.cfg.Zone)
	if err != nil {
		return nil, fmt.Errorf("restproxy: load zone %q: %w", s.cfg.Zone, err)
	}
	s.zone = zone
	if s.client == nil {
		s.client = &http.Client{Timeout: s.cfg.Timeout}
	}
	return s, nil
}

// row mirrors one upstream notification record.
type row struct {
	ID        jsonString `json:"idnotifications"`
	Title     string     `json:"title_notif"`
	Message   string     `json:"mensaje_notif"`
	Type      string     `json:"type_notif"`
	ProjectID jsonString `json:"project_id"`
	UserID    jsonString `json:"user_id"`
	Seen      jsonFlag   `json:"seen"`
	CreatedAt string     `json:"created_at"`
	ExpiresAt string     `json:"fecha_vencimiento"`
}

// envelope is the common upstream response shape. Modes fill different
// members; Success is absent on older controller versions, so nil means ok.
type envelope struct {
	Success      *bool  `json:"success"`
	ErrorMessage string `json:"message"`
	Notification *row   `json:"notification"`
	Notifications *struct {
		Data []row `json:"data"`
	} `json:"notifications"`
}

func (s *Store) QueryNotifications(ctx context.Context, filter store.QueryFilter) ([]domain.NotificationRecord, error) {
	if filter.UserID == "" {
		// The controller only exposes per-user listings. Role and broadcast
		// views have no upstream mode, so they resolve to empty.
		return nil, nil
	}

	resp, err := s.post(ctx, map[string]any{
		"mode":      modeSelect,
		"user_id":   filter.UserID,
		"idproject": filter.ProjectID,
	})
	if err != nil {
		return nil, err
	}
	if resp.Notifications == nil {
		return nil, nil
	}

	now := time.Now()
	records := make([]domain.NotificationRecord, 0, len(resp.Notifications.Data))
	for _, r := range resp.Notifications.Data {
		rec := s.record(r)
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now) {
			continue
		}
		if filter.SeenOnly && !rec.Seen {
			continue
		}
		records = append(records, rec)
		if filter.Limit > 0 && len(records) == filter.Limit {
			break
		}
	}
	return records, nil
}

func (s *Store) InsertNotification(ctx context.Context, input store.InsertInput) (string, error) {
	if err := input.Target.Validate(); err != nil {
		return "", err
	}

	payload := map[string]any{
		"mode":          modeInsert,
		"mensaje_notif": input.Message,
		"title_notif":   input.Title,
	}
	switch input.Target.Type {
	case domain.TargetUser:
		payload["user_id"] = input.Target.ID
	case domain.TargetProject:
		payload["project_id"] = input.Target.ID
	default:
		return "", fmt.Errorf("restproxy: upstream cannot address target %q", input.Target.Type)
	}
	if !input.ExpiresAt.IsZero() {
		payload["fecha_vencimiento"] = input.ExpiresAt.In(s.zone).Format(timeLayout)
	}
	if v, ok := input.Metadata["type"].(string); ok {
		payload["type_notif"] = v
	}
	if v, ok := input.Metadata["project_name"].(string); ok {
		payload["name_project"] = v
	}

	resp, err := s.post(ctx, payload)
	if err != nil {
		return "", err
	}
	if resp.Notification == nil || resp.Notification.ID == "" {
		return "", fmt.Errorf("restproxy: insert response missing notification id")
	}
	return string(resp.Notification.ID), nil
}

// ResolveRecipients returns no explicit recipients: the upstream controller
// materializes delivery rows from the addressing fields sent on insert.
func (s *Store) ResolveRecipients(ctx context.Context, target domain.Target) ([]string, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return nil, nil
}

// AssociateRecipients acknowledges each user without writing anything; see
// ResolveRecipients.
func (s *Store) AssociateRecipients(ctx context.Context, notificationID string, userIDs []string) []store.RecipientOutcome {
	outcomes := make([]store.RecipientOutcome, 0, len(userIDs))
	for _, userID := range userIDs {
		outcomes = append(outcomes, store.RecipientOutcome{UserID: userID})
	}
	return outcomes
}

func (s *Store) MarkSeen(ctx context.Context, notificationID string, userID string) error {
	_, err := s.post(ctx, map[string]any{
		"mode":            modeUpdate,
		"user_id":         userID,
		"idnotifications": notificationID,
		"seen":            1,
	})
	return err
}

func (s *Store) DeleteNotification(ctx context.Context, notificationID string, userID string) error {
	_, err := s.post(ctx, map[string]any{
		"mode":            modeDelete,
		"user_id":         userID,
		"idnotifications": notificationID,
	})
	return err
}

func (s *Store) CountUnseen(ctx context.Context, userID string) (int, error) {
	records, err := s.QueryNotifications(ctx, store.QueryFilter{UserID: userID})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range records {
		if !rec.Seen {
			count++
		}
	}
	return count, nil
}

// SubmitRaw forwards an arbitrary payload to the controller and returns its
// response untouched. The HTTP passthrough route is built on this.
func (s *Store) SubmitRaw(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	body, status, err := s.roundTrip(ctx, []byte(payload))
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("restproxy: unexpected status %d", status)
	}
	return body, nil
}

func (s *Store) post(ctx context.Context, payload map[string]any) (*envelope, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("restproxy: encode payload: %w", err)
	}
	body, status, err := s.roundTrip(ctx, encoded)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("restproxy: mode %v: unexpected status %d", payload["mode"], status)
	}

	var resp envelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("restproxy: decode response: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		if isNotFound(resp.ErrorMessage) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("restproxy: mode %v rejected: %s", payload["mode"], resp.ErrorMessage)
	}
	return &resp, nil
}

// roundTrip posts the body, retrying transient failures per the backoff
// policy. 4xx responses are returned to the caller without retrying.
func (s *Store) roundTrip(ctx context.Context, body []byte) ([]byte, int, error) {
	var (
		out    []byte
		status int
		err    error
	)
	for attempt := 1; ; attempt++ {
		out, status, err = s.attempt(ctx, body)
		if err == nil && status < 500 {
			return out, status, nil
		}
		if attempt > s.cfg.Retries {
			break
		}
		delay := s.backoff.Next(attempt)
		s.logger.Warn("upstream request retry",
			logger.F("attempt", attempt),
			logger.F("delay", delay.String()),
			logger.F("error", err))
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return out, status, err
}

func (s *Store) attempt(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("restproxy: build request: %w", err)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("restproxy: request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("restproxy: read response: %w", err)
	}
	return out, resp.StatusCode, nil
}

// timeLayout matches the upstream's zone-less datetime columns.
const timeLayout = "2006-01-02 15:04:05"

func (s *Store) record(r row) domain.NotificationRecord {
	target := domain.Target{Type: domain.TargetUser, ID: string(r.UserID)}
	if r.UserID == "" && r.ProjectID != "" {
		target = domain.Target{Type: domain.TargetProject, ID: string(r.ProjectID)}
	}
	return domain.NotificationRecord{
		ID:        string(r.ID),
		Title:     r.Title,
		Message:   r.Message,
		Target:    target,
		Seen:      bool(r.Seen),
		CreatedAt: s.parseTime(r.CreatedAt),
		ExpiresAt: s.parseTime(r.ExpiresAt),
	}
}

func (s *Store) parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0000-00-00 00:00:00" {
		return time.Time{}
	}
	if ts, err := time.ParseInLocation(timeLayout, raw, s.zone); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	s.logger.Warn("unparseable upstream timestamp", logger.F("value", raw))
	return time.Time{}
}

func isNotFound(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "not found") || strings.Contains(m, "no existe")
}

// jsonString tolerates upstream id columns arriving as numbers or strings.
type jsonString string

func (v *jsonString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = jsonString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = jsonString(n.String())
	return nil
}

// jsonFlag tolerates seen columns arriving as booleans, numbers, or strings.
type jsonFlag bool

func (v *jsonFlag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "1", "true":
		*v = true
	case "", "0", "false", "null":
		*v = false
	default:
		return fmt.Errorf("restproxy: invalid flag %s", data)
	}
	return nil
}
