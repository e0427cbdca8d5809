package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"halyard", "version"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr %s)", code, errOut.String())
	}
	if !strings.Contains(out.String(), version) {
		t.Errorf("output %q does not mention version %q", out.String(), version)
	}
}

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"halyard", "help"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	for _, cmd := range []string{"serve", "init-db", "health", "version"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("usage does not list %q", cmd)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"halyard", "bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Errorf("stderr %q does not report the unknown command", errOut.String())
	}
}

func TestRun_DefaultsToServer(t *testing.T) {
	calls := 0
	orig := startServer
	startServer = func() { calls++ }
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer
	for _, args := range [][]string{
		{"halyard"},
		{"halyard", "serve"},
		{"halyard", "server"},
		{"halyard", "--port=9090"},
	} {
		if code := Run(args, &out, &errOut); code != 0 {
			t.Fatalf("Run(%v) = %d, want 0", args, code)
		}
	}
	if calls != 4 {
		t.Errorf("startServer called %d times, want 4", calls)
	}
}

func TestRunInitDB_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	var out, errOut bytes.Buffer
	if code := Run([]string{"halyard", "init-db"}, &out, &errOut); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "DATABASE_URL") {
		t.Errorf("stderr %q does not explain the missing connection URL", errOut.String())
	}
}
