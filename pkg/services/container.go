package services

import (
	"log/slog"

	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/eventbus"
	"github.com/patchwell/overseer/pkg/hub"
	"github.com/patchwell/overseer/pkg/persistence"
)

// Config wires the coordination layer together. EventBus is optional;
// without it events still reach in-process subscribers through the hub.
type Config struct {
	Persistence persistence.Persistence
	Engine      engine.Client
	Hub         *hub.Hub
	EventBus    eventbus.EventPublisher
	Logger      *slog.Logger
	Policy      StepFailurePolicy
}

// Container holds the constructed services, all sharing one per-execution
// lock table so every writer to an execution serializes identically.
type Container struct {
	History     *History
	Steps       *Steps
	Approvals   *Approvals
	Coordinator *Coordinator
	Definitions *Definitions
}

// NewContainer builds the full service graph.
func NewContainer(cfg Config) *Container {
	locks := newExecutionLocks()
	n := newNotifier(cfg.Hub, cfg.EventBus, cfg.Logger)
	history := NewHistory(cfg.Persistence.Logs())
	steps := NewSteps(cfg.Persistence, history, n, locks, cfg.Logger)
	approvals := NewApprovals(cfg.Persistence, history, n, locks, cfg.Logger)
	coordinator := NewCoordinator(cfg.Persistence, cfg.Engine, history, steps, n, locks, cfg.Logger, cfg.Policy)

	return &Container{
		History:     history,
		Steps:       steps,
		Approvals:   approvals,
		Coordinator: coordinator,
		Definitions: NewDefinitions(cfg.Persistence),
	}
}
