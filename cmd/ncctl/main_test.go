package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/nccomm/internal/testutil/testlog"
	"github.com/spf13/cobra"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nccomm.toml")

	out, err := runCLI(t, "config", "init", "203.0.113.5", "--config", path)
	if err != nil {
		t.Fatalf("init: %v (%s)", err, out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	out, err = runCLI(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v (%s)", err, out)
	}
	if !strings.Contains(out, "203.0.113.5:830") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestReadOperation(t *testing.T) {
	testlog.Start(t)
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("file", "", "")
		cmd.Flags().String("op", "", "")
		return cmd
	}

	cmd := newCmd()
	_ = cmd.Flags().Set("op", "  <get/>\n")
	if op, err := readOperation(cmd); err != nil || op != "<get/>" {
		t.Fatalf("op flag: %q %v", op, err)
	}

	path := filepath.Join(t.TempDir(), "op.xml")
	if err := os.WriteFile(path, []byte("<get-config><source><running/></source></get-config>\n"), 0o600); err != nil {
		t.Fatalf("write op: %v", err)
	}
	cmd = newCmd()
	_ = cmd.Flags().Set("file", path)
	if op, err := readOperation(cmd); err != nil || !strings.HasPrefix(op, "<get-config>") {
		t.Fatalf("file flag: %q %v", op, err)
	}

	_ = cmd.Flags().Set("op", "<get/>")
	if _, err := readOperation(cmd); err == nil {
		t.Fatalf("expected error when both flags are set")
	}
	if _, err := readOperation(newCmd()); err == nil {
		t.Fatalf("expected error without an operation")
	}
}
