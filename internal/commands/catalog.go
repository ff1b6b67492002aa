package commands

import (
	"context"
	"errors"
	"time"

	command "github.com/goliatone/go-command"

	"github.com/hostcloudpe/notihub/internal/syncer"
	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

// Catalog exposes go-command compatible handlers for host transports. The
// HTTP surface drives the same workflows as the socket events through these.
type Catalog struct {
	SendNotification   command.Commander[SendNotification]
	MarkViewed         command.Commander[MarkViewed]
	DeleteNotification command.Commander[DeleteNotification]
}

type syncService interface {
	Send(ctx context.Context, payload syncer.SendPayload) error
	MarkSeen(ctx context.Context, conn transport.Connection, payload syncer.ViewedPayload) error
	Delete(ctx context.Context, conn transport.Connection, payload syncer.DeletePayload) error
}

// Dependencies wires the sync service into the command catalog.
type Dependencies struct {
	Hub    syncService
	Logger logger.Logger
}

// NewCatalog builds the command catalog using the supplied dependencies.
func NewCatalog(deps Dependencies) (*Catalog, error) {
	if deps.Hub == nil {
		return nil, errors.New("commands: sync service is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}

	return &Catalog{
		SendNotification:   sendCommand{hub: deps.Hub},
		MarkViewed:         viewedCommand{hub: deps.Hub},
		DeleteNotification: deleteCommand{hub: deps.Hub},
	}, nil
}

// SendNotification is the payload for publishing a notification.
type SendNotification struct {
	Target    domain.Target  `json:"target"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	Metadata  domain.JSONMap `json:"metadata,omitempty"`
}

type sendCommand struct {
	hub syncService
}

func (c sendCommand) Execute(ctx context.Context, msg SendNotification) error {
	return c.hub.Send(ctx, syncer.SendPayload{
		Target:    msg.Target,
		Title:     msg.Title,
		Message:   msg.Message,
		ExpiresAt: msg.ExpiresAt,
		Metadata:  msg.Metadata,
	})
}

// MarkViewed flips the seen flag for one notification and user.
type MarkViewed struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
}

type viewedCommand struct {
	hub syncService
}

func (c viewedCommand) Execute(ctx context.Context, msg MarkViewed) error {
	// No originating socket on the command path; affected users still get
	// their refreshed snapshots through the channel broadcast.
	return c.hub.MarkSeen(ctx, nil, syncer.ViewedPayload{
		NotificationID: msg.NotificationID,
		UserID:         msg.UserID,
	})
}

// DeleteNotification removes one notification from one user's list.
type DeleteNotification struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
}

type deleteCommand struct {
	hub syncService
}

func (c deleteCommand) Execute(ctx context.Context, msg DeleteNotification) error {
	return c.hub.Delete(ctx, nil, syncer.DeletePayload{
		NotificationID: msg.NotificationID,
		UserID:         msg.UserID,
	})
}
