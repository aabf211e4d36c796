package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders a starter config for address with default session
// settings.
func Template(address string) (string, error) {
	def := Defaults()
	raw := fileConfig{
		Device: deviceSection{
			Address:  address,
			Port:     def.Device.Port,
			Username: "admin",
		},
		Session: sessionSection{
			Framing:            def.Session.Framing.String(),
			ReadBufferSize:     def.Session.ReadBufferSize,
			WriteChunkSize:     def.Session.WriteChunkSize,
			MaxMessageBytes:    def.Session.Limits.MaxMessageBytes,
			ConnectTimeout:     def.Session.ConnectTimeout.String(),
			HelloTimeout:       def.Session.HelloTimeout.String(),
			ReplyTimeout:       def.Session.ReplyTimeout.String(),
			MaxConnectAttempts: def.Session.MaxConnectAttempts,
			KnownHostsFile:     "~/.ssh/known_hosts",
			Capabilities:       def.Capabilities,
		},
		Log: logSection{
			Level:     def.Log.Level.String(),
			Timestamp: def.Log.Timestamp,
		},
		Admin: adminSection{
			CORSOrigins: []string{},
		},
	}
	out, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path, address string, overwrite bool) error {
	template, err := Template(address)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
