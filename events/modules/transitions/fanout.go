package transitions

import (
	"context"

	"github.com/ortelius/pdvd-ledger/model"
	"go.uber.org/multierr"
)

// Publisher is anything that accepts transition events
type Publisher interface {
	Publish(ctx context.Context, event model.TransitionApplied) error
}

// Fanout delivers every event to all publishers, even when some fail
type Fanout []Publisher

// Publish implements reconcile.Notifier
func (f Fanout) Publish(ctx context.Context, event model.TransitionApplied) error {
	var err error
	for _, p := range f {
		if p == nil {
			continue
		}
		err = multierr.Append(err, p.Publish(ctx, event))
	}
	return err
}
