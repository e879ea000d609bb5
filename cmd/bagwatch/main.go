// Command bagwatch watches surplus-food listings and notifies when bags
// become available. Helper flags run a single account command and exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bissquit/bagwatch/internal/app"
	"github.com/bissquit/bagwatch/internal/config"
	"github.com/bissquit/bagwatch/internal/version"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath  string
	showVersion bool
	favorites   bool
	short       bool
	credentials bool
	add         string
	remove      string
	items       string
}

func (o options) helperMode() bool {
	return o.favorites || o.credentials || o.add != "" || o.remove != "" || o.items != ""
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.helperMode() {
		// Keep stdout for command output.
		logger := app.NewLogger(cfg.Log, stderr)
		return runHelper(ctx, cfg, opts, logger, stdin, stdout)
	}

	logger := app.NewLogger(cfg.Log, stdout)
	slog.SetDefault(logger)
	logger.Info("starting bagwatch", "version", version.Version, "commit", version.GitCommit)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return 1
	}

	runErr := a.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	if runErr != nil {
		logger.Error("bagwatch stopped", "error", runErr, "fatal", app.IsFatal(runErr))
		return 1
	}
	logger.Info("bagwatch stopped")
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("bagwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.favorites, "favorites", false, "print favorites as JSON")
	fs.BoolVar(&opts.short, "short", false, "with -favorites, print only id and name")
	fs.BoolVar(&opts.credentials, "credentials", false, "log in and print the account tokens")
	fs.StringVar(&opts.add, "add", "", "add an item `id` to favorites")
	fs.StringVar(&opts.remove, "delete", "", "remove an item `id` from favorites, or \"all\"")
	fs.StringVar(&opts.items, "items", "", "list items around `lat,lng,radius`")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		_, _ = fmt.Fprintln(stderr, err)
		return options{}, err
	}
	return opts, nil
}

func runHelper(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger, stdin io.Reader, stdout io.Writer) int {
	h, err := app.NewHelper(ctx, cfg, logger, stdout, stdin)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return 1
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Error("failed to close token store", "error", err)
		}
	}()

	switch {
	case opts.favorites:
		err = h.Favorites(ctx, opts.short)
	case opts.credentials:
		err = h.Credentials(ctx)
	case opts.add != "":
		err = h.AddFavorite(ctx, opts.add)
	case opts.remove != "":
		err = h.DeleteFavorite(ctx, opts.remove)
	case opts.items != "":
		err = h.Items(ctx, opts.items)
	}
	if err != nil {
		logger.Error("command failed", "error", err)
		return 1
	}
	return 0
}
