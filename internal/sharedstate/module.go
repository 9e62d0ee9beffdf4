package sharedstate

import (
	"context"

	"go.uber.org/fx"

	"github.com/meshbus/meshbus/internal/config"
)

// ModuleInput lists Module's fx dependencies.
type ModuleInput struct {
	fx.In

	Config *config.Config
}

// ModuleOutput lists what Module provides to the rest of the app.
type ModuleOutput struct {
	fx.Out

	State *SharedState
}

func acquireState(in ModuleInput) (ModuleOutput, error) {
	s, err := Acquire(in.Config)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{State: s}, nil
}

// Module assembles the process-shared state as an fx module. Acquisition
// happens at provide time so the state participates in the same
// process-wide reference count as nodes constructed outside fx; the fx
// lifecycle releases the reference on shutdown.
func Module() fx.Option {
	return fx.Module("sharedstate",
		fx.Provide(acquireState),
		fx.Invoke(func(lc fx.Lifecycle, s *SharedState) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return Release() },
			})
		}),
	)
}
