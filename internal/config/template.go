package config

import (
	"os"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// Template is the configuration written by WriteTemplate.
const Template = `# Index server configuration, one section per environment.
development:
  host: localhost
  port: 9009
  pid_file: log/ferret_server.pid
  log_file: log/ferret_server.log
  log_level: debug
  index_base_dir: index
  codec: json
  timeout: 30s
  database:
    driver: sqlite
    dsn: db/development.sqlite3
  indexes:
    - name: article
      models:
        - name: Article
          table: articles
          fields:
            title: {boost: 2, store: "yes"}
            body: {}

test:
  host: localhost
  port: 9010
  log_level: warn
  index_base_dir: tmp/index
  database:
    driver: sqlite
    dsn: db/test.sqlite3

production:
  host: 0.0.0.0
  port: 9009
  log_level: info
  codec: msgpack
  compress: true
  http_addr: localhost:9090
  database:
    driver: postgres
    dsn: postgres://ferret@localhost/ferret?sslmode=disable
`

// WriteTemplate writes Template to root's configuration path. An existing
// file is kept unless force is set, in which case it is backed up first
// and the backup path returned.
func WriteTemplate(root string, force bool) (string, error) {
	path := Path(root)
	if _, err := os.Stat(path); err == nil && !force {
		return "", ferrors.ConfigError("configuration already exists at "+path, nil).
			WithSuggestion("pass --force to overwrite it; the current file is backed up")
	}
	backup, err := Backup(root)
	if err != nil {
		return "", err
	}
	if err := writeFile(path, []byte(Template)); err != nil {
		return "", err
	}
	return backup, nil
}
