package storage

import (
	"context"
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	bunstore "github.com/hostcloudpe/notihub/internal/storage/bun"
	"github.com/hostcloudpe/notihub/internal/storage/memory"
	"github.com/hostcloudpe/notihub/internal/storage/restproxy"
	"github.com/hostcloudpe/notihub/pkg/config"
	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/store"
)

// Providers bundles the notification store with driver-specific extras.
type Providers struct {
	Store store.NotificationStore
	// Raw is non-nil for drivers that can forward arbitrary payloads
	// upstream (the HTTP passthrough route needs it).
	Raw store.RawSubmitter
	// DB is non-nil for the sqlite driver; the caller owns its lifecycle.
	DB *bun.DB
}

// Close releases driver resources.
func (p Providers) Close() error {
	if p.DB != nil {
		return p.DB.Close()
	}
	return nil
}

// NewMemoryProviders returns a store backed by in-memory maps.
func NewMemoryProviders() Providers {
	return Providers{Store: memory.NewStore()}
}

// NewBunProviders wires the Bun-backed store over an existing DB. The caller
// is responsible for creating the *bun.DB instance (potentially via
// go-persistence-bun) and managing its lifecycle.
func NewBunProviders(db *bun.DB) Providers {
	if db == nil {
		panic("storage: bun DB is required")
	}

	// Register models so go-persistence-bun migrations can pick them up.
	persistence.RegisterModel(
		(*domain.Notification)(nil),
		(*domain.NotificationRecipient)(nil),
		(*domain.Subject)(nil),
	)

	return Providers{Store: bunstore.NewStore(db), DB: db}
}

// NewProxyProviders wires the store that delegates persistence to the
// upstream notification controller.
func NewProxyProviders(l logger.Logger, cfg restproxy.Config) (Providers, error) {
	s, err := restproxy.New(l, restproxy.WithConfig(cfg))
	if err != nil {
		return Providers{}, err
	}
	return Providers{Store: s, Raw: s}, nil
}

// FromConfig builds providers for the configured persistence driver. The
// sqlite driver opens its database and ensures the schema exists.
func FromConfig(ctx context.Context, cfg config.PersistenceConfig, l logger.Logger) (Providers, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryProviders(), nil
	case config.DriverSQLite:
		db, err := bunstore.Open(ctx, cfg.DSN)
		if err != nil {
			return Providers{}, fmt.Errorf("storage: open sqlite: %w", err)
		}
		return NewBunProviders(db), nil
	case config.DriverProxy:
		return NewProxyProviders(l, restproxy.Config{
			URL:     cfg.ProxyURL,
			Timeout: cfg.ProxyTimeout,
		})
	default:
		return Providers{}, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
