package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/xspressctl/internal/simulator"
	"github.com/danmuck/xspressctl/internal/testutil/testlog"
)

func executeRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(envConfig, "")
	cmd := newRootCommand(testlog.Start(t))
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xspressctl.toml")
	out, err := executeRootCommand(t, "config", "init", path)
	if err != nil || !strings.Contains(out, "wrote") {
		t.Fatalf("init out=%q err=%v", out, err)
	}
	if _, err := executeRootCommand(t, "config", "init", path); err == nil {
		t.Fatalf("init should refuse to overwrite")
	}
	out, err = executeRootCommand(t, "config", "validate", path)
	if err != nil || !strings.Contains(out, "is valid") {
		t.Fatalf("validate out=%q err=%v", out, err)
	}
	out, err = executeRootCommand(t, "config", "show")
	if err != nil || !strings.Contains(out, "endpoint = ") || !strings.Contains(out, "127.0.0.1:12000") {
		t.Fatalf("show out=%q err=%v", out, err)
	}
}

func TestParseValue(t *testing.T) {
	testlog.Start(t)
	cases := map[string]any{
		"3":      int64(3),
		"0.5":    0.5,
		"true":   true,
		"mca":    "mca",
		`"list"`: "list",
		"12abc":  "12abc",
	}
	for raw, want := range cases {
		got, err := parseValue(raw)
		if err != nil || got != want {
			t.Fatalf("parseValue(%q) = %#v, %v want %#v", raw, got, err, want)
		}
	}
	if _, err := parseValue("[1,"); err == nil {
		t.Fatalf("broken list should fail")
	}
	if !indexed("config/sca5_low_lim/2") || indexed("config/mode") {
		t.Fatalf("indexed mismatch")
	}
}

type serveFunc func(ctx context.Context) error

func (f serveFunc) Serve(ctx context.Context) error { return f(ctx) }

func TestServeUntilDone(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	canceled := serveFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := serveUntilDone(ctx, canceled); err != nil {
		t.Fatalf("cancel should exit cleanly, got %v", err)
	}
	boom := errors.New("listen failed")
	failing := serveFunc(func(context.Context) error { return boom })
	if err := serveUntilDone(context.Background(), failing); !errors.Is(err, boom) {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestGetAndPutAgainstSimulator(t *testing.T) {
	logger := testlog.Start(t)
	sim := simulator.New(logger)
	srv := simulator.NewServer(sim)
	endpoint, err := srv.Bind("tcp://127.0.0.1:*")
	if err != nil {
		t.Skipf("bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	out, err := executeRootCommand(t, "--endpoint", endpoint, "get", "config/mode")
	if err != nil || strings.TrimSpace(out) != `"mca"` {
		t.Fatalf("get out=%q err=%v", out, err)
	}
	if _, err := executeRootCommand(t, "--endpoint", endpoint, "put", "config/num_images", "12"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v := sim.ReadParams("config/num_images")["config/num_images"]; v != int64(12) {
		t.Fatalf("simulator num_images=%#v", v)
	}
	if _, err := executeRootCommand(t, "--endpoint", endpoint, "put", "config/exposure_time", "99"); err == nil {
		t.Fatalf("out-of-range exposure should fail")
	}
}
