// Package owltest runs decoration test cases from Go tests through the test-runner binary.
package owltest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/harness"
)

const (
	// RunnerEnv overrides the location of the test-runner binary
	RunnerEnv = config.EnvTestRunner
	// RunnerName is the file name searched next to the test executable
	RunnerName = "test-runner"
)

// ErrRunnerNotFound is returned when no test-runner binary can be located
var ErrRunnerNotFound = errors.New("test-runner binary not found")

// Run executes tc and fails t with the runner output unless every decoration matches
func Run(t testing.TB, tc *harness.TestCase) {
	t.Helper()
	runner, err := Locate()
	if err != nil {
		t.Fatalf("%v: set %s or build %s next to the test binary", err, RunnerEnv, RunnerName)
	}
	if output, err := run(context.Background(), runner, tc); err != nil {
		t.Fatalf("%s: %v\n%s", tc.Name, err, output)
	}
}

// Locate returns the test-runner path from RunnerEnv, else the directory of the
// test executable or its parent, else PATH
func Locate() (string, error) {
	if location := os.Getenv(RunnerEnv); location != "" {
		if _, err := os.Stat(location); err != nil {
			return "", fmt.Errorf("failed to locate %s from %s: %w", location, RunnerEnv, err)
		}
		return location, nil
	}
	if executable, err := os.Executable(); err == nil {
		dir := filepath.Dir(executable)
		for _, candidate := range []string{filepath.Join(dir, RunnerName), filepath.Join(filepath.Dir(dir), RunnerName)} {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	if location, err := exec.LookPath(RunnerName); err == nil {
		return location, nil
	}
	return "", ErrRunnerNotFound
}

func run(ctx context.Context, runner string, tc *harness.TestCase) (string, error) {
	data, err := json.Marshal(tc)
	if err != nil {
		return "", fmt.Errorf("failed to encode test case: %w", err)
	}
	output := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, runner, "--single", string(data))
	cmd.Stdout = output
	cmd.Stderr = output
	if err = cmd.Run(); err != nil {
		return output.String(), fmt.Errorf("failed to run %s: %w", runner, err)
	}
	return output.String(), nil
}
