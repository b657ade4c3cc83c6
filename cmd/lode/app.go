package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hlop3z/lodestone/internal/cli"
	"github.com/hlop3z/lodestone/internal/codegen"
	"github.com/hlop3z/lodestone/internal/migrate"
	"github.com/hlop3z/lodestone/pkg/lodestone"
)

// app carries the configuration and output streams shared by the commands.
type app struct {
	out    io.Writer
	errOut io.Writer
	cfg    *Config
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, cfg: &Config{}}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) options() []lodestone.Option {
	opts := []lodestone.Option{
		lodestone.WithMigrationsDir(a.cfg.MigrationsDir),
		lodestone.WithModelsDir(a.cfg.ModelsDir),
		lodestone.WithTimeout(a.cfg.Timeout),
	}
	if len(a.cfg.Backends) > 0 {
		opts = append(opts, lodestone.WithBackends(a.cfg.Backends...))
	}
	if a.cfg.Backend != "" {
		opts = append(opts, lodestone.WithConnection(a.cfg.Backend, a.cfg.Connection))
	}
	return opts
}

// offline opens the migrations without a database.
func (a *app) offline() (*lodestone.Client, error) {
	return lodestone.New(append(a.options(), lodestone.WithOffline())...)
}

// connect opens the migrations and the configured database.
func (a *app) connect() (*lodestone.Client, error) {
	c, err := lodestone.New(a.options()...)
	if err != nil {
		return nil, err
	}
	slog.Debug("connected", "backend", c.Backend())
	return c, nil
}

// warnDetached lists migrations left out of the chain by detachmigration.
func (a *app) warnDetached() {
	c, err := a.offline()
	if err != nil {
		return
	}
	defer c.Close()
	detached, err := c.Migrations().Detached()
	if err != nil || len(detached) == 0 {
		return
	}
	fmt.Fprint(a.errOut, cli.FormatWarning("ignoring detached migrations, delete or re-attach them:"))
	for _, name := range detached {
		fmt.Fprintf(a.errOut, "  - %s\n", name)
	}
}

// afterChainChange regenerates the embedded migrations once 'lode embed'
// has been run.
func (a *app) afterChainChange(ms *migrate.Migrations) error {
	st, err := loadState(a.cfg.MigrationsDir)
	if err != nil || st.Embed == "" {
		return err
	}
	return codegen.Embed(ms, st.Embed, st.Package)
}

// withClient runs fn with a client and closes it afterwards.
func withClient(open func() (*lodestone.Client, error), fn func(c *lodestone.Client) error) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
