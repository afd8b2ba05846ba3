package registry

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"chassis-can/utils"
)

// Receiver feeds every frame read from a bus to the registry.
type Receiver struct {
	l   *slog.Logger
	reg *Registry
	bus utils.Bus
}

func NewReceiver(reg *Registry, bus utils.Bus, opts ...Option) *Receiver {
	o := buildOptions(opts)

	return &Receiver{
		l:   o.logger.With("component", "receiver"),
		reg: reg,
		bus: bus,
	}
}

// Run returns ctx.Err() when ctx is done and nil when the bus is closed.
// Read errors are logged and the loop keeps going.
func (r *Receiver) Run(ctx context.Context) error {
	r.l.Debug("rx loop started")
	defer r.l.Debug("rx loop stopped")

	for {
		frame, err := r.bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, utils.ErrClosed) {
				return nil
			}
			r.l.Error("rx error", utils.Err(err))
			continue
		}

		r.l.Log(ctx, utils.LevelTrace, "rx", "can_id", frame.ID, "len", frame.Length, "data", frame.Data[:frame.Length])
		r.reg.Dispatch(ctx, frame)
	}
}
