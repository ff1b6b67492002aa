package channels

import (
	"errors"

	"github.com/hostcloudpe/notihub/internal/registry"
	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

// Channel name for the singleton broadcast group.
const All = "all"

// ForUser returns the channel name carrying one user's notifications.
func ForUser(id string) string { return "user:" + id }

// ForRole returns the channel name shared by a role's members.
func ForRole(id string) string { return "role:" + id }

// ForProject returns the channel name shared by a project's members.
func ForProject(id string) string { return "project:" + id }

// Resolve maps a target descriptor to its channel names. The mapping is
// deterministic; unknown target types resolve to nothing.
func Resolve(target domain.Target) []string {
	switch target.Type {
	case domain.TargetUser:
		return []string{ForUser(target.ID)}
	case domain.TargetRole:
		return []string{ForRole(target.ID)}
	case domain.TargetProject:
		return []string{ForProject(target.ID)}
	case domain.TargetAll:
		return []string{All}
	default:
		return nil
	}
}

// Router delivers events to the connections currently registered in a
// channel. Delivery is best effort: membership is sampled at call time and
// individual send failures are logged, never propagated.
type Router struct {
	registry *registry.Registry
	logger   logger.Logger
}

var errRegistryRequired = errors.New("channels: registry is required")

// NewRouter builds a router over the given registry.
func NewRouter(reg *registry.Registry, lgr logger.Logger) (*Router, error) {
	if reg == nil {
		return nil, errRegistryRequired
	}
	if lgr == nil {
		lgr = &logger.Nop{}
	}
	return &Router{registry: reg, logger: lgr}, nil
}

// Broadcast sends the event to every connection in the channel at call
// time. Connections joining after the membership snapshot do not receive it.
func (r *Router) Broadcast(channel string, event transport.Event) {
	members := r.registry.MembersOf(channel)
	for _, conn := range members {
		if err := conn.Send(event); err != nil {
			r.logger.Warn("broadcast delivery failed",
				logger.F("channel", channel),
				logger.F("conn_id", conn.ID()),
				logger.F("event", event.Name),
				logger.F("error", err))
		}
	}
	r.logger.Debug("broadcast",
		logger.F("channel", channel),
		logger.F("event", event.Name),
		logger.F("recipients", len(members)))
}

// EmitTo unicasts the event to a single connection.
func (r *Router) EmitTo(conn transport.Connection, event transport.Event) {
	if conn == nil {
		return
	}
	if err := conn.Send(event); err != nil {
		r.logger.Warn("unicast delivery failed",
			logger.F("conn_id", conn.ID()),
			logger.F("event", event.Name),
			logger.F("error", err))
	}
}
