// Package notification combines the agent notifiers into the single
// notifier the orchestrator is configured with.
package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
)

// Named pairs a notifier with the channel name used in logs and errors
type Named struct {
	Name     string
	Notifier port.AgentNotifier
}

// Fanout delivers every state change to all configured channels.
// Every channel is attempted; the failures are joined.
type Fanout struct {
	targets []Named
	logger  *zap.Logger
}

var _ port.AgentNotifier = (*Fanout)(nil)

// NewFanout creates a fanout notifier. Nil notifiers are ignored.
func NewFanout(logger *zap.Logger, targets ...Named) *Fanout {
	kept := make([]Named, 0, len(targets))
	for _, t := range targets {
		if t.Notifier != nil {
			kept = append(kept, t)
		}
	}
	return &Fanout{targets: kept, logger: logger}
}

// NotifyAgent implements port.AgentNotifier
func (f *Fanout) NotifyAgent(ctx context.Context, subtaskID, newState string) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Notifier.NotifyAgent(ctx, subtaskID, newState); err != nil {
			f.logger.Warn("Notification channel failed",
				zap.String("channel", t.Name),
				zap.String("subtask_id", subtaskID),
				zap.String("state", newState),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Channels returns the names of the configured channels
func (f *Fanout) Channels() []string {
	names := make([]string, 0, len(f.targets))
	for _, t := range f.targets {
		names = append(names, t.Name)
	}
	return names
}
