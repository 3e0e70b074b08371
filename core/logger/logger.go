// Package logger provides request-scoped logging based on logrus.
// Every incoming request gets a logger with a unique request ID, and
// the logger travels with the request context through the system,
// including into asynchronously delivered event notifications.
package logger

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type loggerContextData struct {
	RequestID string `json:"requestID"`
	Identity  string `json:"identity"`
}

type requestLoggerKeyType struct{}

var requestLoggerKey = &requestLoggerKeyType{}

const (
	requestIDField = "requestID"
	identityField  = "identity"
)

// InitLogger sets up the time formatter and log level for all log statements.
func InitLogger(logLevel logrus.Level) {
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)
	logrus.SetLevel(logLevel)
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// AddRequestID installs a middleware on the router which equips every
// request context with a logger carrying a fresh request ID. Contexts
// which already have a logger are left untouched.
func AddRequestID(router *mux.Router) {
	router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := ContextWithLogger(r.Context())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	})
}

// ContextWithLogger returns a context with a logger. If the given context
// already has a logger, that context is returned unchanged, otherwise a
// logger with a new request ID is created and stored in the context.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	id, _ := uuid.NewUUID()
	rlog := logrus.WithField(requestIDField, id.String())
	return context.WithValue(ctx, requestLoggerKey, rlog), rlog
}

// ContextWithLoggerIdentity returns a context with a logger which also
// carries an authenticated identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	if rlog == nil {
		return ctx, rlog
	}
	rlog = rlog.WithField(identityField, identity)
	return context.WithValue(ctx, requestLoggerKey, rlog), rlog
}

// ContextWithLoggerFromData returns a context with a logger reconstructed
// from serialized logger data, typically taken from an event notification.
// Invalid data yields a logger with a fresh request ID. If the context
// already has a logger it is returned unchanged.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx
	}

	var values loggerContextData
	if err := json.Unmarshal(data, &values); err != nil || len(values.RequestID) == 0 {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}
	rlog := logrus.WithField(requestIDField, values.RequestID)
	if len(values.Identity) > 0 {
		rlog = rlog.WithField(identityField, values.Identity)
	}
	return context.WithValue(ctx, requestLoggerKey, rlog)
}

// FromContext returns the logger stored in the context. If the context is
// nil or has no logger, the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return Default()
	}
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// SerializeLoggerContext returns a json representation of the logger
// parameters stored in the context, suitable for embedding into event
// notifications.
func SerializeLoggerContext(ctx context.Context) []byte {
	values := contextValues(ctx)
	if values.RequestID == "" {
		return []byte("{}")
	}
	data, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// RequestIDFromContext returns the request ID for the given context, or
// the empty string if the context has no logger.
func RequestIDFromContext(ctx context.Context) string {
	return contextValues(ctx).RequestID
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(requestLoggerKey).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

func contextValues(ctx context.Context) loggerContextData {
	var values loggerContextData
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return values
	}
	if s, ok := rlog.Data[requestIDField].(string); ok {
		values.RequestID = s
	}
	if s, ok := rlog.Data[identityField].(string); ok {
		values.Identity = s
	}
	return values
}
