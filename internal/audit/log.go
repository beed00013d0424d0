// Package audit records balance-affecting requests, accepted or refused, as
// structured zap entries with type=audit.
package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/auth"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

type ctxKey struct{}

type request struct {
	id       string
	remoteIP string
}

// WithRequest attaches the request id and client address used to correlate
// audit entries with access logs.
func WithRequest(ctx context.Context, requestID, remoteIP string) context.Context {
	return context.WithValue(ctx, ctxKey{}, request{
		id:       strings.TrimSpace(requestID),
		remoteIP: strings.TrimSpace(remoteIP),
	})
}

// RequestIDFromContext returns the request id set by WithRequest.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	req, _ := ctx.Value(ctxKey{}).(request)
	return req.id
}

// Logger writes audit entries to a dedicated zap logger.
type Logger struct {
	log *zap.Logger
}

// New returns an audit logger. A nil log discards entries.
func New(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit")}
}

// LogEvent records an accepted operation. fields is copied.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l.log.Info("audit", l.fields(ctx, event, "accepted", fields)...)
	return nil
}

// Rejected records an operation refused with err. Ledger errors contribute
// their code and any shortfall.
func (l *Logger) Rejected(ctx context.Context, event string, err error) {
	extra := map[string]any{"error": err.Error()}
	if e, ok := ledger.AsError(err); ok {
		extra["code"] = e.Code
		extra["kind"] = e.Kind.String()
		if e.Shortfall {
			extra["required"] = e.Required.StringFixed(2)
			extra["available"] = e.Available.StringFixed(2)
		}
	}
	l.log.Warn("audit", l.fields(ctx, event, "rejected", extra)...)
}

func (l *Logger) fields(ctx context.Context, event, outcome string, fields map[string]any) []zap.Field {
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
		zap.String("outcome", outcome),
	}
	if ctx != nil {
		if req, ok := ctx.Value(ctxKey{}).(request); ok {
			if req.id != "" {
				zf = append(zf, zap.String("request_id", req.id))
			}
			if req.remoteIP != "" {
				zf = append(zf, zap.String("remote_ip", req.remoteIP))
			}
		}
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", p.UserID))
		if p.IsAdmin() {
			zf = append(zf, zap.Bool("admin", true))
		}
	}
	cp := make(sortedFields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return append(zf, zap.Object("fields", cp))
}

// sortedFields encodes its keys in order.
type sortedFields map[string]any

func (f sortedFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.AddReflected(k, f[k]); err != nil {
			return err
		}
	}
	return nil
}
