// Package daemon serves indexes to other processes and proxies to them.
// The Server hosts LocalIndexes behind a JSON-RPC 2.0 endpoint on a unix
// socket or TCP port. RemoteIndex is the client side: it implements
// index.Index by forwarding every call to a Server.
package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the endpoint settings shared by Server and Client.
type Config struct {
	// Address is "host:port", "unix:/path" or an absolute socket path.
	Address string

	// PIDPath is where the server records its process ID.
	// Default: log/ferret_server.pid
	PIDPath string

	// Codec selects the request encoding a client sends. The server
	// accepts every codec.
	Codec Codec

	// Compress frames each message with lz4.
	Compress bool

	// Timeout bounds one call, dial included.
	// Default: 30s
	Timeout time.Duration

	// RebuildTimeout bounds rebuild calls and the first-use build behind
	// any call. Zero means no limit.
	// Default: 0
	RebuildTimeout time.Duration

	// ShutdownGracePeriod is how long stop waits before SIGKILL.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:             "localhost:9009",
		PIDPath:             filepath.Join("log", "ferret_server.pid"),
		Codec:               CodecJSON,
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if network, addr := ParseAddress(c.Address); network == "tcp" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid address %q: %w", c.Address, err)
		}
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if _, err := ParseCodec(string(c.Codec)); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RebuildTimeout < 0 {
		return fmt.Errorf("rebuild timeout cannot be negative")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	if network, addr := ParseAddress(c.Address); network == "unix" {
		if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(c.PIDPath), 0o755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return nil
}

// ParseAddress splits an endpoint into a net.Dial network and address.
func ParseAddress(s string) (network, addr string) {
	switch {
	case strings.HasPrefix(s, "unix:"):
		return "unix", strings.TrimPrefix(s, "unix:")
	case strings.HasPrefix(s, "/"):
		return "unix", s
	default:
		return "tcp", strings.TrimPrefix(s, "tcp://")
	}
}
