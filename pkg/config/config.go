// Package config loads the settings of the view client and of the viewmodel
// server from a YAML file, the environment and flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BaseURLEnv overrides the server origin a client talks to.
const BaseURLEnv = "ANEMO_BASE_URL"

// Client holds the client settings.
type Client struct {
	BaseURL string `yaml:"base_url"`
}

// Server holds the viewmodel server settings.
type Server struct {
	Listen         string        `yaml:"listen"`
	DBPath         string        `yaml:"db_path"`
	BackupInterval time.Duration `yaml:"backup_interval"`
	IdleTTL        time.Duration `yaml:"idle_ttl"`
}

func DefaultClient() *Client {
	return &Client{BaseURL: "http://127.0.0.1:8080"}
}

func DefaultServer() *Server {
	return &Server{
		Listen:         "localhost:8080",
		DBPath:         "viewmodels.sqlite3",
		BackupInterval: 5 * time.Second,
		IdleTTL:        30 * time.Minute,
	}
}

// LoadClient reads path (skipped when empty) over the defaults, then applies
// the environment. The result is validated.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if err := readInto(path, cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv(BaseURLEnv); v != "" {
		cfg.BaseURL = v
	}
	return cfg, cfg.Validate()
}

// LoadServer reads path (skipped when empty) over the defaults.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := readInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Client) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url has no host")
	}
	return nil
}

func (s *Server) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if s.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if s.BackupInterval <= 0 {
		return fmt.Errorf("backup_interval must be > 0")
	}
	if s.IdleTTL < 0 {
		return fmt.Errorf("idle_ttl must be >= 0")
	}
	return nil
}

func readInto(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
