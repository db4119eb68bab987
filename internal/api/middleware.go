package api

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"facloc/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if fl, ok := r.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

// RateLimit applies a global token-bucket limit configured via RATE_RPS and
// RATE_BURST. Zero or unset RATE_RPS disables limiting.
func RateLimit(next http.Handler) http.Handler {
	rps, _ := strconv.ParseFloat(os.Getenv("RATE_RPS"), 64)
	if rps <= 0 {
		return next
	}
	burst, _ := strconv.Atoi(os.Getenv("RATE_BURST"))
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			writeProblem(w, http.StatusTooManyRequests, "Rate limited", "request rate exceeds configured limit", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Instrument records request counts and latency per method and status.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTP(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// RequestLogger logs one line per request.
func RequestLogger(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
