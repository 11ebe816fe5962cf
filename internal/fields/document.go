package fields

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Aman-CERP/ferretbind/internal/engine"
)

// Source exposes record attributes by name.
type Source interface {
	Value(attr string) (any, error)
}

// ToDocument builds the engine document for one record. Values are
// NFKC-normalized so compatibility forms match their plain spelling. A failing
// attribute read yields an empty value and a warning so a single bad
// field never aborts a batch.
func ToDocument(cfgs []Config, id, className string, src Source) engine.Document {
	doc := engine.Document{ID: id, ClassName: className, Fields: make([]engine.Field, 0, len(cfgs))}
	for _, c := range cfgs {
		raw, err := src.Value(c.Attr())
		if err != nil {
			slog.Warn("field_value_failed",
				slog.String("class_name", className),
				slog.String("id", id),
				slog.String("field", c.Name),
				slog.String("error", err.Error()))
			raw = nil
		}
		f := engine.Field{Name: c.Name, Value: norm.NFKC.String(Stringify(raw))}
		if c.BoostField != "" {
			f.Repeat = dynamicBoost(src, c, id)
		}
		doc.Fields = append(doc.Fields, f)
	}
	return doc
}

func dynamicBoost(src Source, c Config, id string) int {
	raw, err := src.Value(c.BoostField)
	if err != nil {
		slog.Warn("field_boost_failed",
			slog.String("id", id),
			slog.String("field", c.Name),
			slog.String("error", err.Error()))
		return 1
	}
	b, err := strconv.ParseFloat(Stringify(raw), 64)
	if err != nil || b < 1 {
		return 1
	}
	return int(math.Min(math.Round(b), MaxDynamicBoost))
}

// Stringify renders an attribute value as index text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(t, " ")
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}
