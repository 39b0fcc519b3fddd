package chiware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	audit "github.com/fanengagement/go-audit"
)

// Handler serves the audit query, export and health endpoints. Routes
// expect Authenticate to have run.
type Handler struct {
	query  *audit.QueryService
	stats  func() audit.Stats
	logger *slog.Logger
}

// NewHandler creates a Handler. stats may be nil, in which case the health
// endpoint is not mounted.
func NewHandler(query *audit.QueryService, stats func() audit.Stats, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{query: query, stats: stats, logger: logger}
}

// Routes mounts the audit endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit/events", h.search(func(*http.Request) (audit.Scope, error) { return audit.AdminScope(), nil }))
	r.Get("/audit/events/{id}", h.get)
	r.Get("/audit/export", h.export(func(*http.Request) (audit.Scope, error) { return audit.AdminScope(), nil }))
	r.Get("/organizations/{orgID}/audit/events", h.search(orgScope))
	r.Get("/organizations/{orgID}/audit/export", h.export(orgScope))
	r.Get("/me/audit/events", h.search(func(*http.Request) (audit.Scope, error) { return audit.SelfScope(), nil }))
	if h.stats != nil {
		r.Get("/audit/health", h.health)
	}
}

type scopeFunc func(*http.Request) (audit.Scope, error)

func orgScope(r *http.Request) (audit.Scope, error) {
	org, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		return audit.Scope{}, &audit.FilterError{Field: "orgID", Reason: "must be a UUID"}
	}
	return audit.OrganizationScope(org), nil
}

func (h *Handler) search(scope scopeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s, err := scope(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f, err := ParseFilter(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p, err := parsePage(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		res, err := h.query.Search(r.Context(), caller, s, f, p)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, &audit.FilterError{Field: "id", Reason: "must be a UUID"})
		return
	}
	e, err := h.query.Get(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) export(scope scopeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s, err := scope(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f, err := ParseFilter(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		sw := &streamWriter{ResponseWriter: w, format: format}
		res, err := h.query.Export(r.Context(), caller, s, f, format, sw)
		if err != nil {
			if sw.started {
				// Headers are gone; all that is left is to cut the stream short.
				h.logger.Error("audit export aborted", "export_id", res.ExportID, "rows", res.Rows, "error", err)
				return
			}
			h.fail(w, r, err)
			return
		}
		sw.start()
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats())
}

// fail maps err onto a status code and JSON error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var rle *audit.RateLimitError
	switch {
	case errors.Is(err, audit.ErrInvalidFilter), errors.Is(err, audit.ErrExportRangeExceeded):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrForbidden):
		// The query service has already recorded the denial.
		MarkAudited(r.Context())
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, audit.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rle.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "export rate limit exceeded")
	default:
		h.logger.Error("audit request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// streamWriter sets export headers on the first write, so that errors
// raised before any output can still be reported with a proper status.
type streamWriter struct {
	http.ResponseWriter
	format  audit.ExportFormat
	started bool
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	sw.start()
	return sw.ResponseWriter.Write(p)
}

func (sw *streamWriter) start() {
	if sw.started {
		return
	}
	sw.started = true
	sw.Header().Set("Content-Type", sw.format.ContentType())
	sw.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-export.%s"`, sw.format))
	sw.WriteHeader(http.StatusOK)
}

// ParseFilter reads filter criteria from query parameters. Times are
// RFC 3339; actionType may repeat or be comma separated.
func ParseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var f audit.Filter
	var err error

	if f.OrganizationID, err = optUUID(q.Get("organizationId"), "organizationId"); err != nil {
		return f, err
	}
	if f.ActorID, err = optUUID(q.Get("actorId"), "actorId"); err != nil {
		return f, err
	}
	if f.ResourceID, err = optUUID(q.Get("resourceId"), "resourceId"); err != nil {
		return f, err
	}
	if f.From, err = optTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = optTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	f.ResourceType = audit.ResourceType(q.Get("resourceType"))
	f.Outcome = audit.Outcome(q.Get("outcome"))
	f.Search = strings.TrimSpace(q.Get("search"))
	for _, v := range q["actionType"] {
		for a := range strings.SplitSeq(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				f.ActionTypes = append(f.ActionTypes, audit.ActionType(a))
			}
		}
	}
	return f, nil
}

func parsePage(r *http.Request) (audit.Page, error) {
	var p audit.Page
	q := r.URL.Query()
	for _, field := range []struct {
		name string
		dst  *int
	}{{"page", &p.Number}, {"pageSize", &p.Size}} {
		v := q.Get(field.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, &audit.FilterError{Field: field.name, Reason: "must be a non-negative integer"}
		}
		*field.dst = n
	}
	return p, nil
}

func optUUID(v, field string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, &audit.FilterError{Field: field, Reason: "must be a UUID"}
	}
	return &id, nil
}

func optTime(v, field string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, &audit.FilterError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
