// Package httpapi is the admin and ingest HTTP surface of the daemon.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/hottrack/internal/access"
	"github.com/mohammed-shakir/hottrack/internal/health"
	"github.com/mohammed-shakir/hottrack/internal/hottrack"
	mylog "github.com/mohammed-shakir/hottrack/internal/logger"
	mw "github.com/mohammed-shakir/hottrack/internal/middleware"
	"github.com/mohammed-shakir/hottrack/internal/tracking"
)

const (
	defaultHottest = 10
	maxHottest     = 1000
	maxBatch       = 10000
	maxBodyBytes   = 4 << 20
)

// bucketKey pins a cached bucket snapshot to one root and aging generation,
// so a pass or a re-enabled domain never serves stale entries.
type bucketKey struct {
	root   *hottrack.Root
	gen    uint64
	kind   hottrack.Kind
	bucket int
}

type API struct {
	m       *tracking.Manager
	log     *slog.Logger
	metrics http.Handler
	buckets *lru.Cache[bucketKey, []hottrack.Entry]
}

// New builds the API. metrics may be nil when metrics are disabled.
func New(m *tracking.Manager, log *slog.Logger, metrics http.Handler) *API {
	c, _ := lru.New[bucketKey, []hottrack.Entry](1024)
	return &API{m: m, log: log, metrics: metrics, buckets: c}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(mw.Recover(a.log))
	r.Use(mw.Metrics())
	r.Use(mw.Logging(a.log))
	r.Use(mw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(a.m))
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/v1/domains", func(r chi.Router) {
		r.Get("/", a.listDomains)
		r.Route("/{domain}", func(r chi.Router) {
			r.Use(mw.Domain())
			r.Put("/", a.enable)
			r.Delete("/", a.disable)
			r.Get("/", a.info)
			r.Post("/access", a.recordAccess)
			r.Post("/age", a.age)
			r.Get("/hottest", a.hottest)
			r.Get("/heatmap/{kind}/{bucket}", a.bucket)
			r.Get("/objects/{id}", a.object)
			r.Get("/objects/{id}/ranges/{idx}", a.objectRange)
		})
	})
	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// root resolves {domain} or writes a 404.
func (a *API) root(w http.ResponseWriter, r *http.Request) (*hottrack.Root, bool) {
	d := chi.URLParam(r, "domain")
	root, ok := a.m.Get(d)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", tracking.ErrUnknownDomain, d))
		return nil, false
	}
	return root, true
}

func (a *API) listDomains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"domains": a.m.Domains()})
}

func (a *API) enable(w http.ResponseWriter, r *http.Request) {
	d := chi.URLParam(r, "domain")
	_, existed := a.m.Get(d)
	root, err := a.m.Enable(d)
	switch {
	case errors.Is(err, tracking.ErrInvalidDomain):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, tracking.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
		a.log.InfoContext(r.Context(), "domain enabled")
	}
	writeJSON(w, status, root.Info())
}

func (a *API) disable(w http.ResponseWriter, r *http.Request) {
	err := a.m.Disable(chi.URLParam(r, "domain"))
	if errors.Is(err, tracking.ErrUnknownDomain) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	a.log.InfoContext(r.Context(), "domain disabled")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, root.Info())
}

type accessRequest struct {
	ObjectID uint64 `json:"object_id"`
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
	Op       string `json:"op"`
}

type accessBatch struct {
	Accesses []accessRequest `json:"accesses"`
}

// recordAccess takes {"accesses": [...]}. The batch is validated as a whole
// before anything is recorded.
func (a *API) recordAccess(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	var body accessBatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(body.Accesses) == 0 || len(body.Accesses) > maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Errorf("batch must hold 1 to %d accesses", maxBatch))
		return
	}
	evs := make([]access.Event, len(body.Accesses))
	for i, in := range body.Accesses {
		ev := access.Event{
			Version:  1,
			Domain:   root.Domain(),
			ObjectID: in.ObjectID,
			Offset:   in.Offset,
			Length:   in.Length,
			Op:       in.Op,
		}
		if err := ev.Validate(); err != nil {
			a.log.WarnContext(mylog.WithObjectID(r.Context(), in.ObjectID), "access rejected",
				"index", i, "err", err)
			writeError(w, http.StatusBadRequest, fmt.Errorf("access %d: %w", i, err))
			return
		}
		evs[i] = ev
	}
	for _, ev := range evs {
		root.RecordAccess(ev.ObjectID, ev.Offset, ev.Length, ev.Write())
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"recorded": len(evs)})
}

func (a *API) age(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, root.Age())
}

func (a *API) hottest(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	kind := hottrack.KindObject
	if s := r.URL.Query().Get("kind"); s != "" {
		k, err := hottrack.ParseKind(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kind = k
	}
	n := defaultHottest
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxHottest {
			writeError(w, http.StatusBadRequest, fmt.Errorf("n must be between 1 and %d", maxHottest))
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": root.Generation(),
		"entries":    nonNil(root.Hottest(kind, n)),
	})
}

func (a *API) bucket(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	kind, err := hottrack.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "bucket"))
	if err != nil || idx < 0 || idx >= hottrack.HeatMapSize {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bucket must be between 0 and %d", hottrack.HeatMapSize-1))
		return
	}

	key := bucketKey{root: root, gen: root.Generation(), kind: kind, bucket: idx}
	entries, hit := a.buckets.Get(key)
	if !hit {
		entries = nonNil(root.Bucket(kind, idx))
		a.buckets.Add(key, entries)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": key.gen,
		"entries":    entries,
	})
}

type objectResponse struct {
	hottrack.Stats
	Ranges []uint32 `json:"ranges"`
}

func (a *API) object(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("object id: %w", err))
		return
	}
	ctx := mylog.WithObjectID(r.Context(), id)
	st, found := root.Lookup(id)
	if !found {
		a.log.DebugContext(ctx, "object not tracked")
		writeError(w, http.StatusNotFound, fmt.Errorf("object %d not tracked", id))
		return
	}
	ranges := root.Ranges(id)
	if ranges == nil {
		ranges = []uint32{}
	}
	writeJSON(w, http.StatusOK, objectResponse{Stats: st, Ranges: ranges})
}

func (a *API) objectRange(w http.ResponseWriter, r *http.Request) {
	root, ok := a.root(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("object id: %w", err))
		return
	}
	idx, err := strconv.ParseUint(chi.URLParam(r, "idx"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("range index: %w", err))
		return
	}
	ctx := mylog.WithRangeIndex(mylog.WithObjectID(r.Context(), id), uint32(idx))
	st, found := root.LookupRange(id, uint32(idx))
	if !found {
		a.log.DebugContext(ctx, "range not tracked")
		writeError(w, http.StatusNotFound, fmt.Errorf("range %d of object %d not tracked", idx, id))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func nonNil(es []hottrack.Entry) []hottrack.Entry {
	if es == nil {
		return []hottrack.Entry{}
	}
	return es
}
