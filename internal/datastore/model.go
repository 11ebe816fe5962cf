package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/fields"
	"github.com/Aman-CERP/ferretbind/internal/index"
)

// findChunk caps ids per IN list.
const findChunk = 500

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is one table row as an index.Record.
type Row struct {
	model string
	id    string
	attrs map[string]any
}

// NewRow builds a row from column values, mainly for tests and event
// payloads.
func NewRow(model, id string, attrs map[string]any) *Row {
	return &Row{model: model, id: id, attrs: attrs}
}

// ID returns the primary key as text.
func (r *Row) ID() string { return r.id }

// ClassName returns the model name.
func (r *Row) ClassName() string { return r.model }

// Attrs returns every column value.
func (r *Row) Attrs() map[string]any { return r.attrs }

// Value returns a column value.
func (r *Row) Value(attr string) (any, error) {
	v, ok := r.attrs[attr]
	if !ok {
		return nil, fmt.Errorf("%s has no column %s", r.model, attr)
	}
	return v, nil
}

// Model reads the records of one table.
type Model struct {
	db     *DB
	name   string
	table  string
	pk     string
	fields []fields.Config
}

var _ index.Model = (*Model)(nil)

// NewModel binds a table to a model name.
func NewModel(db *DB, name, table, primaryKey string, cfgs []fields.Config) (*Model, error) {
	if primaryKey == "" {
		primaryKey = "id"
	}
	for _, ident := range []string{table, primaryKey} {
		if !identPattern.MatchString(ident) {
			return nil, ferrors.ConfigError(fmt.Sprintf("model %s: invalid identifier %q", name, ident), nil)
		}
	}
	if name == "" {
		return nil, ferrors.ConfigError("model name is required", nil)
	}
	return &Model{db: db, name: name, table: table, pk: primaryKey, fields: cfgs}, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Fields returns the field configuration.
func (m *Model) Fields() []fields.Config { return m.fields }

// Table returns the table name.
func (m *Model) Table() string { return m.table }

// Count returns the number of rows.
func (m *Model) Count(ctx context.Context) (int, error) {
	var n int
	q := "SELECT COUNT(*) FROM " + quoteIdent(m.table)
	if err := m.db.SQL().QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, classify("count "+m.table, err)
	}
	return n, nil
}

// EachBatch walks every row ordered by primary key, in batches, inside
// one transaction.
func (m *Model) EachBatch(ctx context.Context, batchSize int, fn func([]index.Record) error) error {
	if batchSize <= 0 {
		batchSize = index.DefaultBatchSize
	}
	q := m.db.rebind(fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		quoteIdent(m.table), quoteIdent(m.pk)), 1)

	return m.db.InTx(ctx, func(tx *sql.Tx) error {
		for offset := 0; ; offset += batchSize {
			rows, err := tx.QueryContext(ctx, q, batchSize, offset)
			if err != nil {
				return classify("select "+m.table, err)
			}
			batch, err := m.scan(rows)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			if err := fn(batch); err != nil {
				return err
			}
			if len(batch) < batchSize {
				return nil
			}
		}
	})
}

// FindByIDs loads rows by primary key. filter conditions are ANDed to
// the lookup and use ? placeholders.
func (m *Model) FindByIDs(ctx context.Context, ids []string, filter *index.Filter) ([]index.Record, error) {
	var out []index.Record
	for start := 0; start < len(ids); start += findChunk {
		end := min(start+findChunk, len(ids))
		chunk := ids[start:end]

		q := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)",
			quoteIdent(m.table), quoteIdent(m.pk), placeholders(len(chunk)))
		args := make([]any, 0, len(chunk))
		for _, id := range chunk {
			args = append(args, id)
		}
		if filter != nil && filter.Conditions != "" {
			q += " AND (" + filter.Conditions + ")"
			args = append(args, filter.Args...)
		}

		rows, err := m.db.SQL().QueryContext(ctx, m.db.rebind(q, 1), args...)
		if err != nil {
			return nil, classify("find "+m.table, err)
		}
		recs, err := m.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (m *Model) scan(rows *sql.Rows) ([]index.Record, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("read columns of "+m.table, err)
	}

	var out []index.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("scan "+m.table, err)
		}

		attrs := make(map[string]any, len(cols))
		for i, c := range cols {
			attrs[c] = normalize(values[i])
		}
		pk, ok := attrs[m.pk]
		if !ok {
			return nil, ferrors.ConfigError(fmt.Sprintf("table %s has no column %s", m.table, m.pk), nil)
		}
		out = append(out, &Row{model: m.name, id: idString(pk), attrs: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+m.table, err)
	}
	return out, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

func idString(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		return t
	default:
		return fields.Stringify(v)
	}
}
