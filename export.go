package audit

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExportFormat is the serialization of an export stream.
type ExportFormat string

const (
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// ParseExportFormat accepts "ndjson" (also "json", "jsonl") or "csv".
// Empty means ndjson.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ndjson", "json", "jsonl":
		return FormatNDJSON, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", &FilterError{Field: "format", Reason: fmt.Sprintf("unknown value %q", s)}
}

// ContentType returns the MIME type of the format.
func (f ExportFormat) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/x-ndjson"
}

// ExportResult describes a completed export.
type ExportResult struct {
	ExportID uuid.UUID
	From     time.Time
	To       time.Time
	Rows     int
}

// Export streams every event matching f within scope to w. The date range
// is bounded by MaxExportRange and checked before any storage read; the
// caller's rate limit is checked next, then the export itself is audited.
// Memory use is bounded by the export batch size.
func (q *QueryService) Export(ctx context.Context, c Caller, s Scope, f Filter, format ExportFormat, w io.Writer) (ExportResult, error) {
	if err := q.authorize(ctx, c, s, "export"); err != nil {
		return ExportResult{}, err
	}
	if err := f.Validate(); err != nil {
		return ExportResult{}, err
	}
	if format != FormatNDJSON && format != FormatCSV {
		return ExportResult{}, &FilterError{Field: "format", Reason: fmt.Sprintf("unknown value %q", format)}
	}

	from, to, err := q.exportRange(f)
	if err != nil {
		return ExportResult{}, err
	}
	f.From, f.To = &from, &to

	if err := q.checkRate(ctx, c); err != nil {
		return ExportResult{}, err
	}

	res := ExportResult{ExportID: uuid.New(), From: from, To: to}
	ctx, span := tracer().Start(ctx, "audit.export", trace.WithAttributes(
		attribute.String("audit.export_id", res.ExportID.String()),
		attribute.String("audit.scope", s.String()),
		attribute.String("audit.format", string(format)),
	))
	defer span.End()

	q.recordExport(ctx, c, s, f, format, res.ExportID)
	q.metrics.incExports(format)

	f = s.apply(f, c)
	enc := newExportEncoder(format, w)
	for e, err := range q.store.Stream(ctx, f, q.cfg.ExportBatchSize) {
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("streaming export %s: %w", res.ExportID, err)
		}
		s.project(&e)
		if err := enc.encode(&e); err != nil {
			return res, fmt.Errorf("writing export %s: %w", res.ExportID, err)
		}
		res.Rows++
	}
	if err := enc.flush(); err != nil {
		return res, fmt.Errorf("writing export %s: %w", res.ExportID, err)
	}
	span.SetAttributes(attribute.Int("audit.rows", res.Rows))
	q.logger.Info("audit export completed",
		"export_id", res.ExportID, "scope", s.String(), "rows", res.Rows, "actor_id", c.Actor.ID)
	return res, nil
}

// exportRange resolves open range ends and enforces MaxExportRange.
func (q *QueryService) exportRange(f Filter) (time.Time, time.Time, error) {
	to := q.now().UTC()
	if f.To != nil {
		to = f.To.UTC()
	}
	from := to.Add(-q.cfg.MaxExportRange)
	if f.From != nil {
		from = f.From.UTC()
	}
	if span := to.Sub(from); span > q.cfg.MaxExportRange {
		return time.Time{}, time.Time{}, &RangeError{Requested: span, Max: q.cfg.MaxExportRange}
	}
	return from, to, nil
}

// checkRate consults the limiter. A failing limiter lets the export through.
func (q *QueryService) checkRate(ctx context.Context, c Caller) error {
	if q.limiter == nil {
		return nil
	}
	d, err := q.limiter.Allow(ctx, "export:"+c.Actor.ID.String())
	if err != nil {
		q.logger.Warn("audit export limiter unavailable, allowing", "error", err, "actor_id", c.Actor.ID)
		return nil
	}
	if !d.Allowed {
		return &RateLimitError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func (q *QueryService) recordExport(ctx context.Context, c Caller, s Scope, f Filter, format ExportFormat, id uuid.UUID) {
	b := q.svc.New().
		Actor(c.Actor).
		Action(ActionExported).
		Resource(ResourceAuditLog, id, "audit export").
		Correlation(CorrelationIDFrom(ctx)).
		Details(map[string]any{
			"scope":  s.String(),
			"format": string(format),
			"filter": filterDetails(f),
		})
	if s.kind == scopeOrganization {
		b.Organization(s.org, "")
	}
	e, err := b.Build()
	if err != nil {
		q.logger.Error("audit export event rejected", "error", err)
		return
	}
	q.svc.LogSync(ctx, e)
}

func filterDetails(f Filter) map[string]any {
	m := map[string]any{}
	if f.OrganizationID != nil {
		m["organizationId"] = f.OrganizationID.String()
	}
	if f.ActorID != nil {
		m["actorId"] = f.ActorID.String()
	}
	if f.ResourceType != "" {
		m["resourceType"] = string(f.ResourceType)
	}
	if f.ResourceID != nil {
		m["resourceId"] = f.ResourceID.String()
	}
	if len(f.ActionTypes) > 0 {
		actions := make([]any, len(f.ActionTypes))
		for i, a := range f.ActionTypes {
			actions[i] = string(a)
		}
		m["actionTypes"] = actions
	}
	if f.Outcome != "" {
		m["outcome"] = string(f.Outcome)
	}
	if f.From != nil {
		m["from"] = f.From.Format(time.RFC3339)
	}
	if f.To != nil {
		m["to"] = f.To.Format(time.RFC3339)
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	return m
}

// ---------- Encoders ----------

type exportEncoder interface {
	encode(e *Event) error
	flush() error
}

func newExportEncoder(format ExportFormat, w io.Writer) exportEncoder {
	if format == FormatCSV {
		return &csvEncoder{w: csv.NewWriter(w)}
	}
	bw := bufio.NewWriter(w)
	return &ndjsonEncoder{bw: bw, enc: json.NewEncoder(bw)}
}

type ndjsonEncoder struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func (n *ndjsonEncoder) encode(e *Event) error { return n.enc.Encode(e) }
func (n *ndjsonEncoder) flush() error          { return n.bw.Flush() }

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{
	"id", "timestamp", "actorId", "actorName", "actorIp", "actionType",
	"resourceType", "resourceId", "resourceName", "organizationId",
	"organizationName", "outcome", "failureReason", "correlationId",
}

type csvEncoder struct {
	w           *csv.Writer
	wroteHeader bool
}

func (c *csvEncoder) encode(e *Event) error {
	if !c.wroteHeader {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	return c.w.Write([]string{
		e.ID.String(),
		e.Timestamp.Format(time.RFC3339Nano),
		uuidOrEmpty(e.ActorID),
		deref(e.ActorName),
		deref(e.ActorIP),
		string(e.ActionType),
		string(e.ResourceType),
		e.ResourceID.String(),
		deref(e.ResourceName),
		uuidOrEmpty(e.OrganizationID),
		deref(e.OrganizationName),
		string(e.Outcome),
		deref(e.FailureReason),
		deref(e.CorrelationID),
	})
}

func (c *csvEncoder) flush() error {
	if !c.wroteHeader {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
