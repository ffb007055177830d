package owltest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wvhulle/ferrous-owl/harness"
)

const helperEnv = "FERROUS_OWL_OWLTEST_HELPER"

// TestMain turns the test binary into a fake runner that fails cases named "failing"
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if len(os.Args) < 3 || os.Args[1] != "--single" {
			fmt.Fprintln(os.Stderr, "usage: --single <json>")
			os.Exit(2)
		}
		tc := &harness.TestCase{}
		if err := json.Unmarshal([]byte(os.Args[2]), tc); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		if tc.Name == "failing" {
			fmt.Println("Missing:\n  move")
			os.Exit(1)
		}
		fmt.Println("All decorations match")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestLocate(t *testing.T) {
	t.Run("from environment", func(t *testing.T) {
		runner := filepath.Join(t.TempDir(), RunnerName)
		require.NoError(t, os.WriteFile(runner, []byte("#!/bin/sh\n"), 0o755))
		t.Setenv(RunnerEnv, runner)
		location, err := Locate()
		require.NoError(t, err)
		assert.Equal(t, runner, location)
	})

	t.Run("environment points nowhere", func(t *testing.T) {
		t.Setenv(RunnerEnv, filepath.Join(t.TempDir(), "missing"))
		_, err := Locate()
		assert.Error(t, err)
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv(RunnerEnv, "")
		t.Setenv("PATH", t.TempDir())
		_, err := Locate()
		assert.ErrorIs(t, err, ErrRunnerNotFound)
	})
}

func TestRun(t *testing.T) {
	executable, err := os.Executable()
	require.NoError(t, err)
	t.Setenv(helperEnv, "1")

	tests := []struct {
		description string
		name        string
		expectErr   bool
		output      string
	}{
		{description: "passing case", name: "passing", output: "All decorations match"},
		{description: "failing case", name: "failing", expectErr: true, output: "Missing"},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			testCase := harness.New(tc.name, "fn main() {}").ExpectMove()
			output, err := run(context.Background(), executable, testCase)
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, output, tc.output)
		})
	}
}
