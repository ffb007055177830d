package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/harness"
	"github.com/wvhulle/ferrous-owl/session"
	"github.com/wvhulle/ferrous-owl/version"
)

const serverName = "ferrous-owl"

func main() {
	var (
		single    = flag.String("single", "", "Run one JSON encoded test case instead of reading cases from stdin")
		serverBin = flag.String("server", "", "Path to the ferrous-owl binary (defaults to the one next to this runner, then PATH)")
		parallel  = flag.Int("parallel", 0, "Maximum number of cases running at once (defaults to the CPU count)")
		verbose   = flag.Bool("v", false, "Forward server logs to stderr")
	)
	flag.Parse()

	logger := config.NewLogger(os.Stderr, os.Getenv(config.EnvLogLevel))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, logger, *single, *serverBin, *parallel, *verbose, flag.Args())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, logger *slog.Logger, single, serverBin string, parallel int, verbose bool, files []string) int {
	cases, err := loadCases(ctx, single, files)
	if err != nil {
		logger.Error("failed to load test cases", slog.String("error", err.Error()))
		return 2
	}
	if serverBin == "" {
		if serverBin, err = locateServer(); err != nil {
			logger.Error("failed to locate server", slog.String("error", err.Error()))
			return 2
		}
	}

	sessionOptions := []session.Option{session.WithLogger(logger)}
	if !verbose {
		sessionOptions = append(sessionOptions, session.WithStderr(io.Discard))
	}
	runner := harness.NewRunner([]string{serverBin},
		harness.WithParallel(parallel),
		harness.WithLogger(logger),
		harness.WithSessionOptions(sessionOptions...))
	results := runner.RunAll(ctx, cases)

	passed, failed := harness.Summary(results)
	for _, result := range results {
		if !result.Passed {
			fmt.Fprintf(os.Stderr, "FAIL %s\n%s\n", result.Name, result.Message)
		}
	}
	fmt.Fprintf(os.Stderr, "%s %s: %d passed, %d failed\n", serverName, version.Version, passed, failed)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err = encoder.Encode(results); err != nil {
		logger.Error("failed to write report", slog.String("error", err.Error()))
		return 2
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func loadCases(ctx context.Context, single string, files []string) ([]*harness.TestCase, error) {
	if single != "" {
		return harness.Parse("single.json", []byte("["+single+"]"))
	}
	if len(files) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return harness.Parse("stdin.json", data)
	}
	var ret []*harness.TestCase
	for _, file := range files {
		location, err := filepath.Abs(file)
		if err != nil {
			return nil, err
		}
		cases, err := harness.Load(ctx, location)
		if err != nil {
			return nil, err
		}
		ret = append(ret, cases...)
	}
	if len(ret) == 0 {
		return nil, errors.New("no test cases")
	}
	return ret, nil
}

// locateServer prefers the server built next to this runner
func locateServer() (string, error) {
	if executable, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(executable), serverName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath(serverName)
}
