package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
)

// Config models regpatrol.yml.
type Config struct {
	Store struct {
		Driver string      `yaml:"driver"`
		Redis  RedisConfig `yaml:"redis"`
	} `yaml:"store"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		Console    bool   `yaml:"console"`
	} `yaml:"log"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
	Seed struct {
		Users []SeedUser `yaml:"users"`
	} `yaml:"seed"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SeedUser is a user created when the workspace has no persisted user list.
type SeedUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "redis":
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return fmt.Errorf("config.store.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be one of sqlite, memory, redis (got %q)", c.Store.Driver)
	}
	if c.Log.Level != "" && !logLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("config.log.level %q is invalid", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("config.log rotation values must not be negative")
	}
	ids := map[string]bool{}
	emails := map[string]bool{}
	for i, u := range c.Seed.Users {
		if u.ID == "" {
			return fmt.Errorf("seed user %d has empty id", i)
		}
		if u.Email == "" {
			return fmt.Errorf("seed user %s has empty email", u.ID)
		}
		if ids[u.ID] {
			return fmt.Errorf("seed user id %s is duplicated", u.ID)
		}
		if emails[u.Email] {
			return fmt.Errorf("seed user email %s is duplicated", u.Email)
		}
		ids[u.ID] = true
		emails[u.Email] = true
		if _, err := domain.ParseRole(u.Role); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}

// SeedUsers converts the seed entries into user records with role-derived permissions.
func (c *Config) SeedUsers() ([]domain.User, error) {
	users := make([]domain.User, 0, len(c.Seed.Users))
	for _, su := range c.Seed.Users {
		role, err := domain.ParseRole(su.Role)
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", su.ID, err)
		}
		users = append(users, domain.User{
			ID:          su.ID,
			Name:        su.Name,
			Email:       su.Email,
			Role:        role,
			Permissions: domain.RolePermissions(role),
		})
	}
	return users, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "regpatrol.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  driver: sqlite
  redis:
    addr: localhost:6379
    db: 0
    prefix: "regpatrol:"

log:
  level: info
  console: true
  max_size_mb: 10
  max_backups: 3

metrics:
  textfile: ""

seed:
  users:
    - id: "1"
      name: CLA
      email: cla@example.com
      role: Administrator
    - id: "2"
      name: Domain Manager
      email: manager@example.com
      role: Domain Manager
    - id: "3"
      name: Domain Accountable
      email: accountable@example.com
      role: Domain Accountable
    - id: "4"
      name: Task Manager
      email: taskmanager@example.com
      role: Task Manager
`
