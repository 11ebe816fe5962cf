package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

const sample = `
development:
  port: 9100
  socket: tmp/ferret.sock
  codec: msgpack
  compress: true
  timeout: 5s
  database:
    driver: sqlite
    dsn: db/dev.sqlite3
  cache:
    size: 64
  indexes:
    - name: article
      default_search_fields: [title]
      models:
        - name: Article
          table: articles
          fields:
            title: {boost: 2, store: "yes"}
            body: {}
        - name: Comment
          table: comments
          primary_key: comment_id
          fields: [body]
    - name: shared
      remote: localhost:9200
      raise_on_connection_error: true
      models:
        - name: Page
          table: pages
          fields: [content]

production:
  host: 0.0.0.0
  log_level: info
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, writeFile(Path(root), []byte(content)))
	return root
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9009, cfg.Port)
	assert.Equal(t, filepath.Join("log", "ferret_server.pid"), cfg.PIDFile)
	assert.Equal(t, filepath.Join("log", "ferret_server.log"), cfg.LogFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "index", cfg.IndexBaseDir)
	assert.Equal(t, "json", cfg.Codec)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_SelectsEnvironment(t *testing.T) {
	// Given: a file with two environments
	root := writeConfig(t, sample)

	// When: loading development
	cfg, err := Load(root, "development")
	require.NoError(t, err)

	// Then: the section overrides defaults and the rest stays default
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.True(t, cfg.Compress)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 64, cfg.Cache.Size)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	require.Len(t, cfg.Indexes, 2)

	article, ok := cfg.Index("article")
	require.True(t, ok)
	assert.Equal(t, []string{"title"}, article.DefaultSearchFields)
	require.Len(t, article.Models, 2)
	assert.Equal(t, "comment_id", article.Models[1].PrimaryKey)

	fields, err := article.Models[0].FieldConfigs()
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "body", fields[0].Name)
	assert.Equal(t, "title", fields[1].Name)
	assert.Equal(t, 2.0, fields[1].Boost)

	shared, ok := cfg.Index("shared")
	require.True(t, ok)
	assert.Equal(t, "localhost:9200", shared.Remote)
	assert.True(t, shared.RaiseOnConnectionError)
}

func TestLoad_ResolvesPathsAgainstRoot(t *testing.T) {
	root := writeConfig(t, sample)

	cfg, err := Load(root, "development")
	require.NoError(t, err)

	assert.Equal(t, "unix:"+filepath.Join(root, "tmp", "ferret.sock"), cfg.Address())
	assert.Equal(t, filepath.Join(root, "log", "ferret_server.pid"), cfg.PIDPath())
	assert.Equal(t, filepath.Join(root, "log", "ferret_server.log"), cfg.LogPath())
	assert.Equal(t, filepath.Join(root, "index"), cfg.IndexDir())
	assert.Equal(t, filepath.Join(root, "db", "dev.sqlite3"), cfg.DatabaseDSN())
}

func TestConfig_AddressWithoutSocket(t *testing.T) {
	root := writeConfig(t, sample)

	cfg, err := Load(root, "production")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9009", cfg.Address())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), "development")

	require.Error(t, err)
	assert.True(t, ferrors.HasCode(err, ferrors.ErrCodeConfigNotFound))
}

func TestLoad_MissingEnvironment(t *testing.T) {
	// Given: a file without a staging section
	root := writeConfig(t, sample)

	// When: loading staging
	_, err := Load(root, "staging")

	// Then: the error names the configured environments
	require.Error(t, err)
	assert.True(t, ferrors.HasCode(err, ferrors.ErrCodeConfigInvalid))
	fe, ok := err.(*ferrors.FerretError)
	require.True(t, ok)
	assert.Contains(t, fe.Suggestion, "development, production")
	assert.Equal(t, Path(root), fe.Details["path"])
}

func TestLoad_MalformedYAML(t *testing.T) {
	root := writeConfig(t, "development: [unclosed\n")

	_, err := Load(root, "development")

	assert.True(t, ferrors.HasCode(err, ferrors.ErrCodeConfigInvalid))
}

func TestEnvironments(t *testing.T) {
	root := writeConfig(t, sample)

	envs, err := Environments(root)

	require.NoError(t, err)
	assert.Equal(t, []string{"development", "production"}, envs)
}

func TestEnvironment_Resolution(t *testing.T) {
	t.Setenv(EnvVar, "")
	assert.Equal(t, DefaultEnvironment, Environment(""))

	t.Setenv(EnvVar, "production")
	assert.Equal(t, "production", Environment(""))
	assert.Equal(t, "test", Environment("test"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	// Given: overrides in the environment
	root := writeConfig(t, sample)
	t.Setenv("FERRET_PORT", "9300")
	t.Setenv("FERRET_CODEC", "json")
	t.Setenv("FERRET_COMPRESS", "false")
	t.Setenv("FERRET_TIMEOUT", "2s")
	t.Setenv("FERRET_LOG_LEVEL", "warn")
	t.Setenv("FERRET_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FERRET_KAFKA_TOPIC", "changes")

	// When: loading
	cfg, err := Load(root, "development")
	require.NoError(t, err)

	// Then: they win over the file
	assert.Equal(t, 9300, cfg.Port)
	assert.Equal(t, "json", cfg.Codec)
	assert.False(t, cfg.Compress)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Ingest.Brokers)
	assert.True(t, cfg.Ingest.Enabled())
}

func TestLoad_MalformedEnvOverrideIgnored(t *testing.T) {
	root := writeConfig(t, sample)
	t.Setenv("FERRET_PORT", "not-a-port")

	cfg, err := Load(root, "development")

	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}

func TestConfig_Validate(t *testing.T) {
	model := ModelConfig{Name: "Article", Table: "articles", Fields: []any{"title"}}
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"empty host", func(c *Config) { c.Host = "" }},
		{"unknown codec", func(c *Config) { c.Codec = "xml" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative rebuild timeout", func(c *Config) { c.RebuildTimeout = -time.Second }},
		{"bad http addr", func(c *Config) { c.HTTPAddr = "nope" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"negative cache size", func(c *Config) { c.Cache.Size = -1 }},
		{"brokers without topic", func(c *Config) { c.Ingest.Brokers = []string{"k:9092"} }},
		{"index without name", func(c *Config) {
			c.Indexes = []IndexConfig{{Models: []ModelConfig{model}}}
		}},
		{"index without models", func(c *Config) {
			c.Indexes = []IndexConfig{{Name: "article"}}
		}},
		{"duplicate index", func(c *Config) {
			c.Indexes = []IndexConfig{{Name: "a", Models: []ModelConfig{model}}, {Name: "a", Models: []ModelConfig{{Name: "B", Table: "b", Fields: []any{"x"}}}}}
		}},
		{"model bound twice", func(c *Config) {
			c.Indexes = []IndexConfig{{Name: "a", Models: []ModelConfig{model}}, {Name: "b", Models: []ModelConfig{model}}}
		}},
		{"model without table", func(c *Config) {
			c.Indexes = []IndexConfig{{Name: "a", Models: []ModelConfig{{Name: "Article", Fields: []any{"title"}}}}}
		}},
		{"model without fields", func(c *Config) {
			c.Indexes = []IndexConfig{{Name: "a", Models: []ModelConfig{{Name: "Article", Table: "articles"}}}}
		}},
		{"bad field option", func(c *Config) {
			c.Indexes = []IndexConfig{{Name: "a", Models: []ModelConfig{{Name: "Article", Table: "articles", Fields: map[string]any{"title": "yes"}}}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_SocketSkipsPortCheck(t *testing.T) {
	cfg := NewConfig()
	cfg.Socket = "/tmp/ferret.sock"
	cfg.Port = 0

	assert.NoError(t, cfg.Validate())
}

func TestConfig_DatabaseDSN_LeavesNonFilePathsAlone(t *testing.T) {
	cfg := NewConfig()
	cfg.Root = "/srv/app"

	cfg.Database.DSN = ":memory:"
	assert.Equal(t, ":memory:", cfg.DatabaseDSN())

	cfg.Database.DSN = "file:test.db?cache=shared"
	assert.Equal(t, "file:test.db?cache=shared", cfg.DatabaseDSN())

	cfg.Database = DatabaseConfig{Driver: "postgres", DSN: "postgres://localhost/ferret"}
	assert.Equal(t, "postgres://localhost/ferret", cfg.DatabaseDSN())
}

func TestWriteTemplate_IsLoadable(t *testing.T) {
	root := t.TempDir()

	backup, err := WriteTemplate(root, false)
	require.NoError(t, err)
	assert.Empty(t, backup)

	for _, env := range []string{"development", "test", "production"} {
		_, err := Load(root, env)
		assert.NoError(t, err, env)
	}
}

func TestWriteTemplate_RefusesOverwriteWithoutForce(t *testing.T) {
	root := writeConfig(t, sample)

	_, err := WriteTemplate(root, false)
	require.Error(t, err)

	data, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}
