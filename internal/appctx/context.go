// Package appctx carries the per-invocation application state through
// context.Context. Commands pull one App out of their command context
// instead of reaching for globals.
package appctx

import (
	"context"
	"log/slog"
	"os"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/credentials"
	"github.com/fauna/fauna-cli/internal/output"
)

// GlobalFlags holds flags shared by every command.
type GlobalFlags struct {
	Profile    string
	AccountKey string
	Secret     string
	Database   string
	Role       string
	AccountURL string
	Local      bool
	JSON       bool
	Verbose    bool
}

// App is the assembled application state for one invocation.
type App struct {
	Config  *config.Config
	Creds   *credentials.Credentials
	Account *api.Client
	Output  *output.Writer
	Logger  *slog.Logger
	Flags   GlobalFlags
}

// NewApp builds the application state from resolved configuration.
func NewApp(cfg *config.Config, flags GlobalFlags) (*App, error) {
	logger := newLogger(flags.Verbose)

	format := output.FormatText
	if flags.JSON {
		format = output.FormatJSON
	}
	writer := output.New(output.Options{
		Format: format,
		Writer: os.Stdout,
		ErrOut: os.Stderr,
	})

	client := api.NewClient(cfg.AccountURL)
	creds, err := credentials.New(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:  cfg,
		Creds:   creds,
		Account: client,
		Output:  writer,
		Logger:  logger,
		Flags:   flags,
	}, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type ctxKey struct{}

// WithApp returns a context carrying app.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, ctxKey{}, app)
}

// FromContext returns the App stored in ctx. It panics when absent, which
// only happens if a command runs outside the root command's setup.
func FromContext(ctx context.Context) *App {
	app, ok := ctx.Value(ctxKey{}).(*App)
	if !ok {
		panic("appctx: no App in context")
	}
	return app
}
