package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/config"
	"github.com/aozora-works/kousei-engine/internal/engine"
	"github.com/aozora-works/kousei-engine/internal/mq"
	"github.com/aozora-works/kousei-engine/pkg/logger"
)

// App bundles everything the engine process owns: config, logger, the event
// queue, and the engine itself. One instance per process; the server and
// CLI receive it explicitly.
type App struct {
	config     *config.Config
	mq         mq.MQ
	engine     *engine.Engine
	ctx        context.Context
	cancelFunc context.CancelFunc

	Logger *zap.Logger
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithMQ() OptionFunc {
	return func(app *App) error {
		queue, err := mq.NewMQ()
		if err != nil {
			return err
		}
		app.mq = queue
		return nil
	}
}

func WithEngine() OptionFunc {
	return func(app *App) error {
		app.engine = engine.New(app.config, app.Logger, app.mq)
		return nil
	}
}

func NewApp(cfg *config.Config, options ...OptionFunc) (*App, error) {
	l, err := logger.InitLogger(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     cfg,
		Logger:     l,
		cancelFunc: cancel,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			cancel()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) Close() {
	app.cancelFunc()

	if app.engine != nil {
		app.engine.Close()
	}
	if app.mq != nil {
		app.mq.Close()
	}
	app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) MQ() mq.MQ {
	return app.mq
}

func (app *App) Engine() *engine.Engine {
	return app.engine
}
