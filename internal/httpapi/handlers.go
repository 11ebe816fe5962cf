package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Aman-CERP/ferretbind/internal/index"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Indexes int    `json:"indexes"`
}

// IndexesResponse lists every configured index.
type IndexesResponse struct {
	Indexes []index.Status `json:"indexes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Indexes: len(s.registry.Definitions()),
	})
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	out := IndexesResponse{Indexes: []index.Status{}}
	for _, def := range s.registry.Definitions() {
		idx, err := s.registry.IndexNamed(def.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		st, err := idx.Status(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out.Indexes = append(out.Indexes, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	model := mux.Vars(r)["model"]
	idx, err := s.registry.Index(model)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := idx.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSearch answers GET /search?q=...&models=A,B&offset=&limit=.
// One model searches its index; several federate.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	var models []string
	for _, m := range strings.Split(q.Get("models"), ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		writeJSONError(w, http.StatusBadRequest, "query parameter models is required")
		return
	}

	var opts index.SearchOptions
	for name, dst := range map[string]*int{"offset": &opts.Offset, "limit": &opts.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid "+name+": "+raw)
			return
		}
		*dst = n
	}

	ctx := r.Context()
	if len(models) > 1 {
		mi, err := s.registry.MultiIndex(ctx, models)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := mi.FindIDs(ctx, query, opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	b, err := s.registry.Bind(models[0])
	if err != nil {
		writeError(w, err)
		return
	}
	res := &index.IDResult{Hits: []index.IDHit{}}
	res.Total, err = b.FindIDByContents(ctx, query, opts, func(h index.IDHit) bool {
		res.Hits = append(res.Hits, h)
		return true
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
