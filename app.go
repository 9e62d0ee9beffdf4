package meshbus

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/meshbus/meshbus/internal/config"
	"github.com/meshbus/meshbus/internal/sharedstate"
)

// Version is the library version reported by the CLI.
const Version = "v0.1.0"

// buildFxApp assembles the process-level subsystems as an fx app: the
// configuration and the shared state (which owns the discovery engine),
// with their lifecycles. fx's own diagnostic chatter is discarded so
// only the subsystem loggers speak.
func buildFxApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		sharedstate.Module(),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
}

// StartNode assembles the process-shared subsystems through fx and
// returns a node on top of them. It behaves like NewNode except that the
// shared state's shutdown is additionally tied to the fx lifecycle,
// which suits applications already structured around a root app object;
// the returned node's Close stops that app.
func StartNode(ctx context.Context, opts ...NodeOption) (*Node, error) {
	app := buildFxApp(config.NewConfig())
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	node, err := NewNode(opts...)
	if err != nil {
		stopApp(app)
		return nil, err
	}
	node.app = app
	return node, nil
}

func stopApp(app *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		log.Warn("fx app stop failed", "err", err)
	}
}
