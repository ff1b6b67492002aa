package commands

import (
	"errors"

	command "github.com/goliatone/go-command"

	internalcommands "github.com/hostcloudpe/notihub/internal/commands"
	"github.com/hostcloudpe/notihub/internal/syncer"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
)

// Re-export request types so consumers need not import internal packages.
type (
	SendNotification   = internalcommands.SendNotification
	MarkViewed         = internalcommands.MarkViewed
	DeleteNotification = internalcommands.DeleteNotification
)

// Registry exposes go-command compatible handlers backed by the sync service.
type Registry struct {
	Catalog            *internalcommands.Catalog
	SendNotification   command.Commander[SendNotification]
	MarkViewed         command.Commander[MarkViewed]
	DeleteNotification command.Commander[DeleteNotification]
}

// Dependencies mirror the internal command dependencies but keep them public.
type Dependencies struct {
	Hub    *syncer.Service
	Logger logger.Logger
}

// New builds the registry using the provided dependencies.
func New(deps Dependencies) (*Registry, error) {
	if deps.Hub == nil {
		return nil, errors.New("commands: sync service is required")
	}
	catalog, err := internalcommands.NewCatalog(internalcommands.Dependencies{
		Hub:    deps.Hub,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		Catalog:            catalog,
		SendNotification:   catalog.SendNotification,
		MarkViewed:         catalog.MarkViewed,
		DeleteNotification: catalog.DeleteNotification,
	}, nil
}

// Commanders returns every handler so callers can register them with
// go-command registries.
func (r *Registry) Commanders() []any {
	if r == nil {
		return nil
	}
	return []any{
		r.SendNotification,
		r.MarkViewed,
		r.DeleteNotification,
	}
}
