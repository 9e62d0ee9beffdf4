package discovery

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

	Engine *Engine
}

func newEngine(in ModuleInput) (ModuleOutput, error) {
	eng, err := NewEngine(in.Config)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Engine: eng}, nil
}

// Module assembles the discovery engine as an fx module: construction via
// NewEngine, Start/Stop wired to the fx lifecycle.
func Module() fx.Option {
	return fx.Module("discovery",
		fx.Provide(newEngine),
		fx.Invoke(func(lc fx.Lifecycle, eng *Engine) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error { return eng.Start() },
				OnStop:  func(context.Context) error { return eng.Stop() },
			})
		}),
	)
}
