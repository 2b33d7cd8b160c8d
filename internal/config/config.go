// Package config loads config.yaml for the mssqlgrid commands.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gnemet/mssqlgrid"
	"github.com/gnemet/mssqlgrid/database/connpool"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no path is given.
const DefaultPath = "config.yaml"

// Database is one named SQL Server connection.
type Database struct {
	Name                   string `yaml:"name"`
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	Encrypt                string `yaml:"encrypt"`
	TrustServerCertificate *bool  `yaml:"trust_server_certificate"`
	AppName                string `yaml:"app_name"`
	Default                bool   `yaml:"default"`
	// DSN overrides every field above when set.
	DSN string `yaml:"dsn"`
}

type Config struct {
	Application struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"application"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database []Database `yaml:"database"`
	Pool     struct {
		MaxConnections int           `yaml:"max_connections"`
		IdleTimeout    time.Duration `yaml:"idle_timeout"`
		MaxLifetime    time.Duration `yaml:"max_lifetime"`
		HealthInterval time.Duration `yaml:"health_interval"`
	} `yaml:"pool"`
	Grid struct {
		PageSize      int           `yaml:"page_size"`
		MaxCellLength int           `yaml:"max_cell_length"`
		QueryTimeout  time.Duration `yaml:"query_timeout"`
	} `yaml:"grid"`
	Definitions struct {
		CacheSize int           `yaml:"cache_size"`
		CacheTTL  time.Duration `yaml:"cache_ttl"`
	} `yaml:"definitions"`
	SavedQueries struct {
		Path string `yaml:"path"`
	} `yaml:"saved_queries"`
}

// Load reads path after loading .env, expanding ${VAR} references first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a config document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Application.Name == "" {
		c.Application.Name = "mssqlgrid"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Grid.PageSize == 0 {
		c.Grid.PageSize = mssqlgrid.DefaultPageSize
	}
	if c.Grid.MaxCellLength == 0 {
		c.Grid.MaxCellLength = mssqlgrid.DefaultMaxCellLength
	}
	if c.Grid.QueryTimeout == 0 {
		c.Grid.QueryTimeout = 30 * time.Second
	}
	if c.Definitions.CacheSize == 0 {
		c.Definitions.CacheSize = 1000
	}
	if c.Definitions.CacheTTL == 0 {
		c.Definitions.CacheTTL = 10 * time.Minute
	}
	if c.SavedQueries.Path == "" {
		c.SavedQueries.Path = "saved_queries.yaml"
	}
	for i := range c.Database {
		d := &c.Database[i]
		if d.Port == 0 {
			d.Port = 1433
		}
		if d.Encrypt == "" {
			d.Encrypt = "disable"
		}
		if d.AppName == "" {
			d.AppName = c.Application.Name
		}
	}
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	valid := false
	for _, s := range mssqlgrid.PageSizes {
		if s == c.Grid.PageSize {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("grid.page_size %d must be one of %v", c.Grid.PageSize, mssqlgrid.PageSizes)
	}
	if c.Grid.MaxCellLength < 0 {
		return errors.New("grid.max_cell_length must not be negative")
	}
	seen := make(map[string]bool, len(c.Database))
	defaults := 0
	for _, d := range c.Database {
		if d.Name == "" {
			return errors.New("database entry without name")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate database name %q", d.Name)
		}
		seen[d.Name] = true
		if d.DSN == "" && d.Host == "" {
			return fmt.Errorf("database %q: host or dsn is required", d.Name)
		}
		switch strings.ToLower(d.Encrypt) {
		case "disable", "false", "true", "strict":
		default:
			return fmt.Errorf("database %q: encrypt must be disable, false, true or strict", d.Name)
		}
		if d.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("more than one database marked default")
	}
	return nil
}

// DefaultDatabase returns the entry marked default, else the first one.
func (c *Config) DefaultDatabase() (Database, bool) {
	for _, d := range c.Database {
		if d.Default {
			return d, true
		}
	}
	if len(c.Database) > 0 {
		return c.Database[0], true
	}
	return Database{}, false
}

// Lookup returns the entry named name; an empty name means the default.
func (c *Config) Lookup(name string) (Database, error) {
	if name == "" {
		if d, ok := c.DefaultDatabase(); ok {
			return d, nil
		}
		return Database{}, errors.New("no database configured")
	}
	for _, d := range c.Database {
		if d.Name == name {
			return d, nil
		}
	}
	return Database{}, fmt.Errorf("database %q is not configured", name)
}

// ConnString builds the sqlserver:// DSN for go-mssqldb.
func (d Database) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
	}

	q := url.Values{}
	if d.Database != "" {
		q.Set("database", d.Database)
	}
	q.Set("encrypt", strings.ToLower(d.Encrypt))
	if d.TrustServerCertificate != nil {
		q.Set("TrustServerCertificate", strconv.FormatBool(*d.TrustServerCertificate))
	}
	if d.AppName != "" {
		q.Set("app name", d.AppName)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// Tuning returns the pool settings.
func (c *Config) Tuning() connpool.Tuning {
	return connpool.Tuning{
		MaxOpenConns: c.Pool.MaxConnections,
		IdleTimeout:  c.Pool.IdleTimeout,
		MaxLifetime:  c.Pool.MaxLifetime,
		QueryTimeout: c.Grid.QueryTimeout,
	}
}

// PanelConfig returns the registry defaults.
func (c *Config) PanelConfig() mssqlgrid.PanelConfig {
	return mssqlgrid.PanelConfig{
		PageSize:      c.Grid.PageSize,
		MaxCellLength: c.Grid.MaxCellLength,
	}
}
