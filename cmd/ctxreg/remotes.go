package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig is the on-disk profile of named registry deployments.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote points the CLI at one registry deployment. URL is the HTTP API;
// GRPCAddr is used with --transport grpc.
type Remote struct {
	URL        string `toml:"url"`
	GRPCAddr   string `toml:"grpc_addr,omitempty"`
	Token      string `toml:"token,omitempty"`
	NATSURL    string `toml:"nats_url,omitempty"`
	OperatorID int64  `toml:"operator_id,omitempty"`
}

// Validate checks the addresses of r before it is saved.
func (r Remote) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q: want http(s)://host[:port]", r.URL)
	}
	if r.GRPCAddr != "" {
		if _, _, err := net.SplitHostPort(r.GRPCAddr); err != nil {
			return fmt.Errorf("grpc address %q: %w", r.GRPCAddr, err)
		}
	}
	if r.NATSURL != "" && !strings.HasPrefix(r.NATSURL, "nats://") && !strings.HasPrefix(r.NATSURL, "tls://") {
		return fmt.Errorf("nats url %q: want nats:// or tls://", r.NATSURL)
	}
	if r.OperatorID < 0 {
		return errors.New("operator id must not be negative")
	}
	return nil
}

// maskToken keeps the first eight characters of a bearer token.
func maskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

func remoteConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "ctxreg")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remoteConfigPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	var cfg RemotesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return RemotesConfig{Remotes: map[string]Remote{}}, nil
		}
		return RemotesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil || cfg.Active == "" {
		return Remote{}
	}
	return cfg.Remotes[cfg.Active]
})

func activeRemoteURL() string      { return activeRemote().URL }
func activeRemoteGRPCAddr() string { return activeRemote().GRPCAddr }
func activeRemoteToken() string    { return activeRemote().Token }
func activeRemoteNATSURL() string  { return activeRemote().NATSURL }
