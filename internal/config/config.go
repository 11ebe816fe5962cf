// Package config loads the index server configuration: a YAML file with
// one section per environment, overridden by FERRET_* variables.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/ferretbind/internal/datastore"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/fields"
)

const (
	// DefaultEnvironment is used when neither --environment nor
	// FERRET_ENV is set.
	DefaultEnvironment = "development"

	// EnvVar names the environment variable selecting the section.
	EnvVar = "FERRET_ENV"
)

// Path returns the configuration file location under root.
func Path(root string) string {
	return filepath.Join(root, "config", "ferret_server.yml")
}

// Config is one environment's section of the configuration file.
type Config struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	Socket       string        `yaml:"socket" json:"socket"`
	PIDFile      string        `yaml:"pid_file" json:"pid_file"`
	LogFile      string        `yaml:"log_file" json:"log_file"`
	LogLevel     string        `yaml:"log_level" json:"log_level"`
	IndexBaseDir string        `yaml:"index_base_dir" json:"index_base_dir"`
	Codec        string        `yaml:"codec" json:"codec"`
	Compress     bool          `yaml:"compress" json:"compress"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	HTTPAddr     string        `yaml:"http_addr" json:"http_addr"`

	// RebuildTimeout bounds remote rebuilds and first-use builds. Zero
	// means no limit.
	RebuildTimeout time.Duration `yaml:"rebuild_timeout" json:"rebuild_timeout"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Ingest   IngestConfig   `yaml:"ingest" json:"ingest"`
	Indexes  []IndexConfig  `yaml:"indexes" json:"indexes"`

	// Root is the directory relative paths resolve against.
	Root string `yaml:"-" json:"root"`
	// Environment is the section the config was loaded from.
	Environment string `yaml:"-" json:"environment"`
}

// DatabaseConfig selects the data store models read from.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// CacheConfig configures the search result cache. An empty RedisAddr
// keeps results in process memory.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr" json:"redis_addr"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	Size      int           `yaml:"size" json:"size"`
}

// IngestConfig configures the change event consumer. No brokers
// disables it.
type IngestConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	GroupID string   `yaml:"group_id" json:"group_id"`
}

// Enabled reports whether a consumer should run.
func (c IngestConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// IndexConfig declares one index and the models bound to it.
type IndexConfig struct {
	Name                   string        `yaml:"name" json:"name"`
	Remote                 string        `yaml:"remote" json:"remote"`
	RaiseOnConnectionError bool          `yaml:"raise_on_connection_error" json:"raise_on_connection_error"`
	Lazy                   bool          `yaml:"lazy" json:"lazy"`
	LazyFields             []string      `yaml:"lazy_fields" json:"lazy_fields"`
	DefaultSearchFields    []string      `yaml:"default_search_fields" json:"default_search_fields"`
	StoreClassName         *bool         `yaml:"store_class_name" json:"store_class_name,omitempty"`
	Models                 []ModelConfig `yaml:"models" json:"models"`
}

// ModelConfig binds a table to an index.
type ModelConfig struct {
	Name       string `yaml:"name" json:"name"`
	Table      string `yaml:"table" json:"table"`
	PrimaryKey string `yaml:"primary_key" json:"primary_key"`
	// Fields is a list of names or a map of name to field options.
	Fields any `yaml:"fields" json:"fields"`
}

// FieldConfigs validates and defaults the model's field declaration.
func (m ModelConfig) FieldConfigs() ([]fields.Config, error) {
	cfgs, err := fields.Build(m.Fields)
	if err != nil {
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, ferrors.ConfigError("model "+m.Name+" declares no fields", nil)
	}
	return cfgs, nil
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         9009,
		PIDFile:      filepath.Join("log", "ferret_server.pid"),
		LogFile:      filepath.Join("log", "ferret_server.log"),
		LogLevel:     "debug",
		IndexBaseDir: "index",
		Codec:        "json",
		Timeout:      30 * time.Second,
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			TTL:  5 * time.Minute,
			Size: 256,
		},
		Ingest: IngestConfig{
			GroupID: "ferret-server",
		},
	}
}

// Environment resolves the section name: the flag value, then FERRET_ENV,
// then DefaultEnvironment.
func Environment(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvVar); v != "" {
		return v
	}
	return DefaultEnvironment
}

// Load reads root's configuration file, selects env and applies
// environment overrides. A missing file or section is a config error.
func Load(root, env string) (*Config, error) {
	path := Path(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.ErrCodeConfigNotFound, "no configuration file at "+path, err).
				WithDetail("path", path).
				WithSuggestion("run 'ferret-server config init' to create one")
		}
		return nil, ferrors.ConfigError("failed to read "+path, err)
	}

	cfg, err := Parse(data, env)
	if err != nil {
		if fe, ok := err.(*ferrors.FerretError); ok {
			return nil, fe.WithDetail("path", path)
		}
		return nil, err
	}
	cfg.Root = root
	return cfg, nil
}

// Parse decodes the env section of a configuration document on top of
// the defaults, applies overrides and validates.
func Parse(data []byte, env string) (*Config, error) {
	sections, err := parseSections(data)
	if err != nil {
		return nil, err
	}
	node, ok := sections[env]
	if !ok {
		return nil, ferrors.ConfigError(fmt.Sprintf("environment %q is not configured", env), nil).
			WithDetail("environment", env).
			WithSuggestion("configured environments: " + strings.Join(sortedKeys(sections), ", "))
	}

	cfg := NewConfig()
	if err := node.Decode(cfg); err != nil {
		return nil, ferrors.ConfigError(fmt.Sprintf("environment %s: %v", env, err), err)
	}
	cfg.Environment = env
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseSections(data []byte) (map[string]yaml.Node, error) {
	var sections map[string]yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&sections); err != nil {
		return nil, ferrors.ConfigError("failed to parse configuration", err)
	}
	return sections, nil
}

// Environments lists the sections of root's configuration file.
func Environments(root string) ([]string, error) {
	data, err := os.ReadFile(Path(root))
	if err != nil {
		return nil, err
	}
	sections, err := parseSections(data)
	if err != nil {
		return nil, err
	}
	return sortedKeys(sections), nil
}

func sortedKeys(m map[string]yaml.Node) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// applyEnvOverrides applies FERRET_* variables. Malformed numeric or
// boolean values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FERRET_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("FERRET_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("FERRET_SOCKET"); v != "" {
		c.Socket = v
	}
	if v := os.Getenv("FERRET_PID_FILE"); v != "" {
		c.PIDFile = v
	}
	if v := os.Getenv("FERRET_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("FERRET_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FERRET_INDEX_BASE_DIR"); v != "" {
		c.IndexBaseDir = v
	}
	if v := os.Getenv("FERRET_CODEC"); v != "" {
		c.Codec = v
	}
	if v := os.Getenv("FERRET_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Compress = b
		}
	}
	if v := os.Getenv("FERRET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("FERRET_REBUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RebuildTimeout = d
		}
	}
	if v := os.Getenv("FERRET_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("FERRET_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("FERRET_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("FERRET_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("FERRET_KAFKA_BROKERS"); v != "" {
		c.Ingest.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FERRET_KAFKA_TOPIC"); v != "" {
		c.Ingest.Topic = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Socket == "" {
		if c.Port <= 0 || c.Port > 65535 {
			return ferrors.ConfigError(fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port), nil)
		}
		if c.Host == "" {
			return ferrors.ConfigError("host cannot be empty", nil)
		}
	}

	switch strings.ToLower(c.Codec) {
	case "json", "msgpack":
	default:
		return ferrors.ConfigError(fmt.Sprintf("codec must be 'json' or 'msgpack', got %s", c.Codec), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return ferrors.ConfigError(fmt.Sprintf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel), nil)
	}

	if c.Timeout <= 0 {
		return ferrors.ConfigError("timeout must be positive", nil)
	}
	if c.RebuildTimeout < 0 {
		return ferrors.ConfigError("rebuild_timeout cannot be negative", nil)
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return ferrors.ConfigError("invalid http_addr "+c.HTTPAddr, err)
		}
	}

	if _, err := datastore.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Cache.Size < 0 {
		return ferrors.ConfigError(fmt.Sprintf("cache.size must be non-negative, got %d", c.Cache.Size), nil)
	}
	if len(c.Ingest.Brokers) > 0 && c.Ingest.Topic == "" {
		return ferrors.ConfigError("ingest.topic is required when brokers are set", nil)
	}

	return c.validateIndexes()
}

func (c *Config) validateIndexes() error {
	names := make(map[string]bool)
	models := make(map[string]string)
	for i, idx := range c.Indexes {
		if idx.Name == "" {
			return ferrors.ConfigError(fmt.Sprintf("indexes[%d]: name is required", i), nil)
		}
		if names[idx.Name] {
			return ferrors.ConfigError("duplicate index "+idx.Name, nil)
		}
		names[idx.Name] = true

		if len(idx.Models) == 0 {
			return ferrors.ConfigError("index "+idx.Name+" has no models", nil).
				WithDetail("index", idx.Name)
		}
		for j, m := range idx.Models {
			if m.Name == "" || m.Table == "" {
				return ferrors.ConfigError(fmt.Sprintf("index %s: models[%d] needs a name and a table", idx.Name, j), nil)
			}
			if other, ok := models[m.Name]; ok {
				return ferrors.ConfigError(fmt.Sprintf("model %s is bound to both %s and %s", m.Name, other, idx.Name), nil)
			}
			models[m.Name] = idx.Name
			if _, err := m.FieldConfigs(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Address is the index server endpoint: the socket when set, otherwise
// host:port.
func (c *Config) Address() string {
	if c.Socket != "" {
		return "unix:" + c.resolve(c.Socket)
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PIDPath returns the absolute PID file path.
func (c *Config) PIDPath() string { return c.resolve(c.PIDFile) }

// LogPath returns the absolute log file path.
func (c *Config) LogPath() string { return c.resolve(c.LogFile) }

// IndexDir returns the absolute index base directory.
func (c *Config) IndexDir() string { return c.resolve(c.IndexBaseDir) }

// DatabaseDSN returns the data source name, resolving relative SQLite
// file paths against Root.
func (c *Config) DatabaseDSN() string {
	dialect, err := datastore.ParseDialect(c.Database.Driver)
	if err != nil || dialect != datastore.DialectSQLite {
		return c.Database.DSN
	}
	if c.Database.DSN == "" || strings.HasPrefix(c.Database.DSN, "file:") || strings.HasPrefix(c.Database.DSN, ":memory:") {
		return c.Database.DSN
	}
	return c.resolve(c.Database.DSN)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Index returns the named index declaration.
func (c *Config) Index(name string) (IndexConfig, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexConfig{}, false
}
