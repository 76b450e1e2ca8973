package audit

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"federation-gateway/internal/common/logging"
)

// Emitter builds events and hands them to a Sink
type Emitter struct {
	sink   Sink
	logger logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewEmitter creates an emitter writing to sink
func NewEmitter(sink Sink, logger logging.Logger) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Emitter{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

// RouteName returns "METHOD /template" for mux routes and falls back to the
// raw path.
func RouteName(r *http.Request) string {
	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			path = tpl
		}
	}
	return r.Method + " " + path
}

// Middleware assigns a correlation id, runs next and emits exactly one event.
// A panic in next is recorded as FAILURE and then re-raised.
func (e *Emitter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := e.newID()
		w.Header().Set(HeaderCorrelationID, correlationID)

		ctx := logging.ContextWithCorrelationID(r.Context(), correlationID)
		ctx, ann := withAnnotations(ctx)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := e.now()

		defer func() {
			recovered := recover()

			status := rec.status
			if recovered != nil && !rec.wroteHeader {
				status = http.StatusInternalServerError
			}
			outcome := OutcomeSuccess
			if recovered != nil || status >= http.StatusBadRequest {
				outcome = OutcomeFailure
			}

			code, details := ann.snapshot()
			if recovered != nil {
				if code == "" {
					code = "panic"
				}
				details["error"] = fmt.Sprint(recovered)
			}

			e.emit(ctx, Event{
				CorrelationID: correlationID,
				Actor:         ann.actor(),
				Route:         RouteName(r),
				Outcome:       outcome,
				HTTP: &HTTPInfo{
					Method:    r.Method,
					Status:    status,
					LatencyMs: e.now().Sub(start).Milliseconds(),
				},
				ErrorCode: code,
				Details:   details,
			}, start)

			if recovered != nil {
				panic(recovered)
			}
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// Wrap audits a non-HTTP operation. The error from fn is returned unchanged;
// its type name becomes the errorCode and its message goes into details.
func (e *Emitter) Wrap(ctx context.Context, route string, fn func(ctx context.Context) error) (err error) {
	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = e.newID()
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	}
	ctx, ann := withAnnotations(ctx)
	start := e.now()

	defer func() {
		recovered := recover()

		code, details := ann.snapshot()
		outcome := OutcomeSuccess
		switch {
		case recovered != nil:
			outcome = OutcomeFailure
			if code == "" {
				code = "panic"
			}
			details["error"] = fmt.Sprint(recovered)
		case err != nil:
			outcome = OutcomeFailure
			if code == "" {
				code = errorTypeName(err)
			}
			details["error"] = err.Error()
		}

		details["latencyMs"] = e.now().Sub(start).Milliseconds()
		e.emit(ctx, Event{
			CorrelationID: correlationID,
			Actor:         ann.actor(),
			Route:         route,
			Outcome:       outcome,
			ErrorCode:     code,
			Details:       details,
		}, start)

		if recovered != nil {
			panic(recovered)
		}
	}()

	return fn(ctx)
}

func (e *Emitter) emit(ctx context.Context, event Event, at time.Time) {
	event.ID = e.newID()
	event.Time = at.UTC()
	event.Details, event.Redactions = Redact(event.Details)
	if len(event.Details) == 0 {
		event.Details = nil
	}
	e.sink.Emit(ctx, event)
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
