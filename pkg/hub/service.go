// Package hub is the public entry point: it assembles the channel registry,
// router, relative-time formatter, and sync workflows behind one service.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hostcloudpe/notihub/internal/channels"
	"github.com/hostcloudpe/notihub/internal/registry"
	"github.com/hostcloudpe/notihub/internal/reltime"
	"github.com/hostcloudpe/notihub/internal/syncer"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

// Re-export commonly used types so callers don't depend on internal packages.
type (
	JoinPayload   = syncer.JoinPayload
	SendPayload   = syncer.SendPayload
	ViewedPayload = syncer.ViewedPayload
	DeletePayload = syncer.DeletePayload
)

// ErrInvalidPayload re-exports the validation sentinel transports match on.
var ErrInvalidPayload = syncer.ErrInvalidPayload

// Service exposes the notification hub workflows to transports.
type Service struct {
	internal *syncer.Service
}

// Dependencies wires the store adapter and ambient pieces.
type Dependencies struct {
	Store  store.NotificationStore
	Logger logger.Logger
	// Locale and Timezone drive the relative-time phrases. Empty values
	// fall back to Spanish under America/Lima.
	Locale   string
	Timezone string
	// Clock overrides time sampling in tests.
	Clock func() time.Time
}

var errServiceNotInitialised = errors.New("hub: service not initialised")

// New constructs the façade.
func New(deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("hub: store adapter is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}

	opts := []reltime.Option{reltime.WithLocale(deps.Locale)}
	if deps.Timezone != "" {
		zone, err := time.LoadLocation(deps.Timezone)
		if err != nil {
			return nil, fmt.Errorf("hub: load zone %q: %w", deps.Timezone, err)
		}
		opts = append(opts, reltime.WithZone(zone))
	}
	formatter, err := reltime.New(opts...)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	router, err := channels.NewRouter(reg, deps.Logger)
	if err != nil {
		return nil, err
	}

	internal, err := syncer.NewService(syncer.Dependencies{
		Registry:  reg,
		Router:    router,
		Store:     deps.Store,
		Formatter: formatter,
		Logger:    deps.Logger,
		Clock:     deps.Clock,
	})
	if err != nil {
		return nil, err
	}
	return &Service{internal: internal}, nil
}

// Join subscribes the connection and unicasts its current snapshot.
func (s *Service) Join(ctx context.Context, conn transport.Connection, payload JoinPayload) error {
	if s == nil || s.internal == nil {
		return errServiceNotInitialised
	}
	return s.internal.Join(ctx, conn, payload)
}

// Send persists a notification and fans it out.
func (s *Service) Send(ctx context.Context, payload SendPayload) error {
	if s == nil || s.internal == nil {
		return errServiceNotInitialised
	}
	return s.internal.Send(ctx, payload)
}

// MarkSeen flips the seen flag and resyncs the affected user.
func (s *Service) MarkSeen(ctx context.Context, conn transport.Connection, payload ViewedPayload) error {
	if s == nil || s.internal == nil {
		return errServiceNotInitialised
	}
	return s.internal.MarkSeen(ctx, conn, payload)
}

// Delete removes a notification from one user's list and resyncs them.
func (s *Service) Delete(ctx context.Context, conn transport.Connection, payload DeletePayload) error {
	if s == nil || s.internal == nil {
		return errServiceNotInitialised
	}
	return s.internal.Delete(ctx, conn, payload)
}

// Disconnect clears the connection's channel memberships.
func (s *Service) Disconnect(conn transport.Connection) {
	if s == nil || s.internal == nil {
		return
	}
	s.internal.Disconnect(conn)
}

// Internal exposes the underlying service for command catalog wiring.
func (s *Service) Internal() *syncer.Service {
	if s == nil {
		return nil
	}
	return s.internal
}
