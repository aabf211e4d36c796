package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/nccomm/internal/protocol/frame"
	"github.com/danmuck/nccomm/internal/protocol/session"
	"github.com/danmuck/nccomm/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nccomm.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[device]
address = " 192.0.2.10 "
username = "netops"
key_file = "/home/netops/.ssh/id_ed25519"

[session]
framing = "chunked"
reply_timeout = "5s"
insecure_ignore_host_key = true
capabilities = ["urn:ietf:params:netconf:base:1.1", " "]

[log]
level = "debug"
json = true

[admin]
listen_addr = "127.0.0.1:9830"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := session.DefaultConfig()
	if cfg.Device.Address != "192.0.2.10" || cfg.Device.Port != 830 || cfg.Device.Username != "netops" {
		t.Fatalf("unexpected device %+v", cfg.Device)
	}
	if cfg.Session.Framing != frame.FramingChunked || cfg.Session.ReplyTimeout != 5*time.Second {
		t.Fatalf("session overlay not applied: %+v", cfg.Session)
	}
	if cfg.Session.HelloTimeout != def.HelloTimeout || cfg.Session.ReadBufferSize != def.ReadBufferSize {
		t.Fatalf("undefined keys must keep defaults: %+v", cfg.Session)
	}
	if len(cfg.Capabilities) != 1 {
		t.Fatalf("capabilities not normalized: %v", cfg.Capabilities)
	}
	if cfg.Log.Level != zerolog.DebugLevel || !cfg.Log.Bypass {
		t.Fatalf("log overlay not applied: %+v", cfg.Log)
	}
	if cfg.Admin.ListenAddr != "127.0.0.1:9830" {
		t.Fatalf("admin overlay not applied: %+v", cfg.Admin)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":    "[device]\naddress = \"h\"\nhostname = \"x\"\n[session]\ninsecure_ignore_host_key = true\n",
		"bad duration":   "[device]\naddress = \"h\"\n[session]\ninsecure_ignore_host_key = true\nreply_timeout = \"soon\"\n",
		"bad framing":    "[device]\naddress = \"h\"\n[session]\ninsecure_ignore_host_key = true\nframing = \"xml\"\n",
		"bad log level":  "[device]\naddress = \"h\"\n[session]\ninsecure_ignore_host_key = true\n[log]\nlevel = \"loud\"\n",
		"no host policy": "[device]\naddress = \"h\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(writeConfig(t, "[session]\ninsecure_ignore_host_key = true\n")); !errors.Is(err, ErrMissingAddress) {
		t.Fatalf("expected ErrMissingAddress, got %v", err)
	}
	if _, err := Load(writeConfig(t, "[device]\naddress = \"h\"\n")); !errors.Is(err, session.ErrHostKeyPolicyRequired) {
		t.Fatalf("expected ErrHostKeyPolicyRequired, got %v", err)
	}
}

func TestTemplateRoundTrips(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nccomm.toml")
	if err := WriteTemplate(path, "198.51.100.7", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "198.51.100.7", false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite guard, got %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := Defaults()
	if cfg.Device.Address != "198.51.100.7" || cfg.Session.ReplyTimeout != def.Session.ReplyTimeout {
		t.Fatalf("template did not round trip: %+v", cfg)
	}
	if cfg.Session.KnownHostsFile == "" {
		t.Fatalf("template should set a known_hosts policy")
	}
}
