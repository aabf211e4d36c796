package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/nccomm/internal/logging"
	"github.com/danmuck/nccomm/internal/netconf"
	"github.com/danmuck/nccomm/internal/protocol/frame"
	"github.com/danmuck/nccomm/internal/protocol/session"
)

var ErrMissingAddress = errors.New("config: device address is required")

// File is a resolved configuration: defaults overlaid with every key the
// file defines.
type File struct {
	Device       netconf.DeviceInfo
	Session      session.Config
	Capabilities []string
	Log          logging.Options
	Admin        Admin
}

type Admin struct {
	ListenAddr  string
	CORSOrigins []string
}

type fileConfig struct {
	Device  deviceSection  `toml:"device"`
	Session sessionSection `toml:"session"`
	Log     logSection     `toml:"log"`
	Admin   adminSection   `toml:"admin"`
}

type deviceSection struct {
	Address  string `toml:"address"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password,omitempty"`
	KeyFile  string `toml:"key_file,omitempty"`
}

type sessionSection struct {
	Framing               string   `toml:"framing"`
	SingleShot            bool     `toml:"single_shot"`
	ReadBufferSize        int      `toml:"read_buffer_size"`
	WriteChunkSize        int      `toml:"write_chunk_size"`
	MaxMessageBytes       uint64   `toml:"max_message_bytes"`
	ConnectTimeout        string   `toml:"connect_timeout"`
	HelloTimeout          string   `toml:"hello_timeout"`
	ReplyTimeout          string   `toml:"reply_timeout"`
	MaxConnectAttempts    int      `toml:"max_connect_attempts"`
	KnownHostsFile        string   `toml:"known_hosts_file"`
	InsecureIgnoreHostKey bool     `toml:"insecure_ignore_host_key"`
	Capabilities          []string `toml:"capabilities"`
}

type logSection struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
	JSON      bool   `toml:"json"`
}

type adminSection struct {
	ListenAddr  string   `toml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

func Defaults() File {
	return File{
		Device:       netconf.DeviceInfo{Port: netconf.DefaultPort},
		Session:      session.DefaultConfig(),
		Capabilities: []string{netconf.CapabilityBase11},
		Log:          logging.DefaultOptions(logging.ProfileRuntime),
	}
}

// Load decodes path and overlays the keys it defines onto Defaults.
func Load(path string) (File, error) {
	cfg := Defaults()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return File{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return File{}, fmt.Errorf("load config (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	applyDevice(&cfg, meta, raw.Device)
	if err := applySession(&cfg, meta, raw.Session); err != nil {
		return File{}, err
	}
	if err := applyLog(&cfg, meta, raw.Log); err != nil {
		return File{}, err
	}
	if meta.IsDefined("admin", "listen_addr") {
		cfg.Admin.ListenAddr = strings.TrimSpace(raw.Admin.ListenAddr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CORSOrigins = normalizeList(raw.Admin.CORSOrigins)
	}

	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

func (f File) Validate() error {
	if strings.TrimSpace(f.Device.Address) == "" {
		return ErrMissingAddress
	}
	if err := f.Session.ValidateCommunicator(); err != nil {
		return err
	}
	return f.Session.ValidateClientTransport()
}

func applyDevice(cfg *File, meta toml.MetaData, raw deviceSection) {
	if meta.IsDefined("device", "address") {
		cfg.Device.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("device", "port") {
		cfg.Device.Port = raw.Port
	}
	if meta.IsDefined("device", "username") {
		cfg.Device.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("device", "password") {
		cfg.Device.Password = raw.Password
	}
	if meta.IsDefined("device", "key_file") {
		cfg.Device.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
}

func applySession(cfg *File, meta toml.MetaData, raw sessionSection) error {
	s := &cfg.Session
	if meta.IsDefined("session", "framing") {
		f, err := frame.ParseFraming(raw.Framing)
		if err != nil {
			return fmt.Errorf("parse session.framing: %w", err)
		}
		s.Framing = f
	}
	if meta.IsDefined("session", "single_shot") {
		s.SingleShot = raw.SingleShot
	}
	if meta.IsDefined("session", "read_buffer_size") {
		s.ReadBufferSize = raw.ReadBufferSize
	}
	if meta.IsDefined("session", "write_chunk_size") {
		s.WriteChunkSize = raw.WriteChunkSize
	}
	if meta.IsDefined("session", "max_message_bytes") {
		s.Limits.MaxMessageBytes = raw.MaxMessageBytes
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &s.ConnectTimeout},
		{"hello_timeout", raw.HelloTimeout, &s.HelloTimeout},
		{"reply_timeout", raw.ReplyTimeout, &s.ReplyTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "max_connect_attempts") {
		s.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("session", "known_hosts_file") {
		s.KnownHostsFile = strings.TrimSpace(raw.KnownHostsFile)
	}
	if meta.IsDefined("session", "insecure_ignore_host_key") {
		s.InsecureIgnoreHostKey = raw.InsecureIgnoreHostKey
	}
	if meta.IsDefined("session", "capabilities") {
		cfg.Capabilities = normalizeList(raw.Capabilities)
	}
	return nil
}

func applyLog(cfg *File, meta toml.MetaData, raw logSection) error {
	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Level)
		if !ok {
			return fmt.Errorf("parse log.level: unknown level %q", raw.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.NoColor
	}
	if meta.IsDefined("log", "json") {
		cfg.Log.Bypass = raw.JSON
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
