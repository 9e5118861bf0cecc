package env_test

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"snapshot-reftest/internal/env"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestOrDefault(t *testing.T) {
	tests := []struct {
		name  string
		value string
		set   bool
		got   func() any
		want  any
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"",
			false,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", "fallback") },
			"fallback",
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"value",
			true,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", "fallback") },
			"value",
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"42",
			true,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", 1) },
			42,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"not-a-number",
			true,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", 1) },
			1,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"true",
			true,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", false) },
			true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"1.5",
			true,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", 0.0) },
			1.5,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"250ms",
			true,
			func() any { return env.OrDefault("REFTEST_ENV_TEST", time.Second) },
			250 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		name := tt.name
		tt := tt
		t.Run(name, func(t *testing.T) {
			if tt.set {
				t.Setenv("REFTEST_ENV_TEST", tt.value)
			} else {
				os.Unsetenv("REFTEST_ENV_TEST")
			}
			if diff := cmp.Diff(tt.want, tt.got()); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "test.env")
	if err := os.WriteFile(filename, []byte("REFTEST_LOAD_TEST=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REFTEST_LOAD_TEST", "")
	os.Unsetenv("REFTEST_LOAD_TEST")

	if err := env.Load(filename, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("from-file", os.Getenv("REFTEST_LOAD_TEST")); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
