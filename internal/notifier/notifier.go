package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Notifier delivers a short alert to an operator.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Fanout sends every alert to all targets. Delivery is best-effort: a failing
// target is logged and does not prevent the rest.
type Fanout struct {
	targets []Notifier
	logger  zerolog.Logger
}

func NewFanout(targets ...Notifier) *Fanout {
	return &Fanout{
		targets: targets,
		logger:  log.With().Str("component", "notifier").Logger(),
	}
}

// Len reports how many targets are configured.
func (f *Fanout) Len() int { return len(f.targets) }

func (f *Fanout) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for i, t := range f.targets {
		if err := t.Notify(ctx, subject, body); err != nil {
			f.logger.Warn().Err(err).Str("subject", subject).Msg("notification failed")
			errs = append(errs, fmt.Errorf("target %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
