package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHostKeyPolicyRequired  = errors.New("session: known_hosts file or insecure host key policy required")
	ErrHostKeyPolicyConflict  = errors.New("session: known_hosts file and insecure host key policy are exclusive")
	ErrInvalidReadBufferSize  = errors.New("session: read buffer size must be positive")
	ErrInvalidConnectAttempts = errors.New("session: max connect attempts must not be negative")
)

// ValidateClientTransport checks the SSH-facing part of the config.
func (c Config) ValidateClientTransport() error {
	knownHosts := strings.TrimSpace(c.KnownHostsFile)
	if knownHosts == "" && !c.InsecureIgnoreHostKey {
		return ErrHostKeyPolicyRequired
	}
	if knownHosts != "" && c.InsecureIgnoreHostKey {
		return ErrHostKeyPolicyConflict
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConnectAttempts, c.MaxConnectAttempts)
	}
	return nil
}

// ValidateCommunicator checks the reader/writer part of the config.
func (c Config) ValidateCommunicator() error {
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReadBufferSize, c.ReadBufferSize)
	}
	return nil
}
