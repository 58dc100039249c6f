package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/fileshare/internal/config"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"serve", "sweep", "migrate", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("команда %q не найдена: %v", name, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != config.Version {
		t.Errorf("version: хотели %q, получили %q", config.Version, got)
	}
}

func TestSweepCommand_MemoryStores(t *testing.T) {
	t.Setenv("FS_ENV_FILE", t.TempDir()+"/absent.env")
	t.Setenv("FS_CONFIG_FILE", "")
	t.Setenv("FS_BASE_URL", "http://files.test")
	t.Setenv("FS_DB_DRIVER", "memory")
	t.Setenv("FS_BLOB_BACKEND", "memory")
	t.Setenv("FS_LOG_LEVEL", "error")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sweep", "--reconcile"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "found=0 purged=0 errors=0") {
		t.Errorf("вывод sweep: получили %q", out.String())
	}
	if !strings.Contains(out.String(), "reconcile: checked=0") {
		t.Errorf("вывод reconcile: получили %q", out.String())
	}
}
