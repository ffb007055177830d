package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/viant/afs"
	"github.com/wvhulle/ferrous-owl/backend"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/compiler"
	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/server"
	"github.com/wvhulle/ferrous-owl/version"
)

const usage = `usage: ferrous-owl [command]

commands:
  lsp            serve the language server protocol on stdio (default)
  check [path]   analyze the crate at path and print each snapshot as a JSON line
  clean [path]   delete the analysis cache of the crate at path
  version        print the version
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, flag.Args())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	command := "lsp"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	logger := config.NewLogger(os.Stderr, os.Getenv(config.EnvLogLevel))
	slog.SetDefault(logger)

	switch command {
	case "lsp", "server":
		code, err := server.New(os.Stdin, os.Stdout, server.WithLogger(logger)).Serve(ctx)
		if err != nil {
			logger.Error("server stopped", slog.String("error", err.Error()))
		}
		return code
	case "check":
		return check(ctx, logger, pathArg(args))
	case "clean":
		return clean(ctx, logger, pathArg(args))
	case "version", "--version", "-V":
		fmt.Println(version.Name, version.Version)
		return 0
	}
	flag.Usage()
	return 2
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func driverFor(ctx context.Context, logger *slog.Logger, path string) (*compiler.Driver, string, error) {
	crate, err := compiler.Detect(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to detect crate at %v: %w", path, err)
	}
	cfg, err := config.Load(ctx, crate.Root)
	if err != nil {
		return nil, "", err
	}
	if cfg.LogLevel != "" && os.Getenv(config.EnvLogLevel) == "" {
		logger = config.NewLogger(os.Stderr, cfg.LogLevel)
	}
	driver := compiler.NewDriver(backend.NewSyntactic(),
		compiler.WithCache(cache.New(cfg.CacheDir, cache.WithLogger(logger))),
		compiler.WithConfig(cfg),
		compiler.WithLogger(logger))
	return driver, crate.Root, nil
}

func check(ctx context.Context, logger *slog.Logger, path string) int {
	driver, root, err := driverFor(ctx, logger, path)
	if err != nil {
		logger.Error("check failed", slog.String("error", err.Error()))
		return 1
	}
	receiver, done := driver.RunInBackground(ctx, root)
	encoder := json.NewEncoder(os.Stdout)
	for {
		snapshot, err := receiver.Recv(context.Background())
		if err != nil {
			break
		}
		if err = encoder.Encode(snapshot); err != nil {
			logger.Error("failed to write snapshot", slog.String("error", err.Error()))
			receiver.Close()
			break
		}
	}
	outcome := <-done
	if outcome.Err != nil {
		logger.Error("analysis failed", slog.String("error", outcome.Err.Error()))
	}
	return outcome.Code
}

func clean(ctx context.Context, logger *slog.Logger, path string) int {
	driver, _, err := driverFor(ctx, logger, path)
	if err != nil {
		logger.Error("clean failed", slog.String("error", err.Error()))
		return 1
	}
	dir := driver.Cache().Dir()
	fs := afs.New()
	if ok, _ := fs.Exists(ctx, dir); !ok {
		return 0
	}
	if err = fs.Delete(ctx, dir); err != nil {
		logger.Error("failed to delete cache", slog.String("dir", filepath.Clean(dir)), slog.String("error", err.Error()))
		return 1
	}
	return 0
}
