package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/manager"
	"inferd/internal/stats"
	"inferd/pkg/types"
)

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compresses JSON only; NDJSON streams pass through untouched.
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level", "X-Request-Id"}),
			ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerate(w, r)
		if !ok {
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Str("request_id", req.ID).Msg("generate start")
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		res, err := svc.Run(ctx, req.Prompt, toOptions(req))
		if err != nil {
			if clientGone(r, err) {
				return
			}
			status := writeError(w, err)
			if ev := requestEvent(r, lvl, LevelError); ev != nil {
				ev.Str("request_id", res.RequestID).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
			}
			return
		}
		writeJSON(w, http.StatusOK, types.GenerateResponse{
			RequestID: res.RequestID,
			Content:   res.Text,
			MaxTokens: res.MaxTokens,
			LatencyMS: res.Latency.Milliseconds(),
		})
		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Str("request_id", res.RequestID).Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("generate end")
		}
	})

	r.Post("/generate/stream", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerate(w, r)
		if !ok {
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		st, err := svc.OpenStream(ctx, req.Prompt, toOptions(req))
		if err != nil {
			if clientGone(r, err) {
				return
			}
			status := writeError(w, err)
			if ev := requestEvent(r, lvl, LevelError); ev != nil {
				ev.Int("status", status).Err(err).Msg("stream rejected")
			}
			return
		}
		defer st.Close()
		if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
			ev.Str("request_id", st.ID()).Msg("stream start")
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		var out io.Writer = w
		if lvl >= LevelDebug {
			out = io.MultiWriter(w, &loggingLineWriter{rid: middleware.GetReqID(r.Context())})
		}
		enc := json.NewEncoder(out)
		flush := func() {}
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}

		for {
			delta, err := st.Recv()
			if errors.Is(err, io.EOF) {
				_ = enc.Encode(types.StreamChunk{Done: true, Content: st.Content(), RequestID: st.ID()})
				flush()
				if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
					ev.Str("request_id", st.ID()).Dur("dur", time.Since(start)).Msg("stream end")
				}
				return
			}
			if err != nil {
				if clientGone(r, err) {
					return
				}
				// Headers are out; report the failure in-band.
				status, kind := classify(err)
				_ = enc.Encode(types.StreamChunk{Done: true, RequestID: st.ID(), Error: kind + ": " + err.Error(), Code: status})
				flush()
				if ev := requestEvent(r, lvl, LevelError); ev != nil {
					ev.Str("request_id", st.ID()).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("stream end")
				}
				return
			}
			if err := enc.Encode(types.StreamChunk{Delta: delta}); err != nil {
				return
			}
			flush()
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := svc.HealthCheck()
		status := http.StatusOK
		if h.Status == manager.Unhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, types.HealthResponse{
			Status:               string(h.Status),
			ActiveRequests:       h.ActiveRequests,
			QueuedRequests:       h.QueuedRequests,
			StuckRequestsCleaned: h.StuckRequestsCleaned,
			ModelLoaded:          h.ModelLoaded,
			HostLoad:             h.HostLoad,
			Reason:               h.Reason,
		})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		snap := svc.Stats()
		resp := types.StatsResponse{Services: make([]types.ServiceStats, 0, len(snap))}
		for _, s := range snap {
			resp.Services = append(resp.Services, toServiceStats(s))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/stats/reset", func(w http.ResponseWriter, r *http.Request) {
		svc.ResetStats(r.URL.Query().Get("resource"))
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decodeGenerate validates and decodes a GenerateRequest body, writing the
// error response itself when it fails.
func decodeGenerate(w http.ResponseWriter, r *http.Request) (types.GenerateRequest, bool) {
	var req types.GenerateRequest
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, KindBadRequest, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, KindBadRequest, "request body too large")
			return req, false
		}
		writeJSONError(w, http.StatusBadRequest, KindBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, KindBadRequest, "prompt is required")
		return req, false
	}
	if req.MaxTokens < 0 || req.Temperature < 0 || req.TopP < 0 || req.TopP > 1 {
		writeJSONError(w, http.StatusBadRequest, KindBadRequest, "max_tokens, temperature and top_p must be non-negative; top_p at most 1")
		return req, false
	}
	return req, true
}

func toOptions(req types.GenerateRequest) manager.Options {
	return manager.Options{
		ID:          req.ID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Seed:        req.Seed,
		Priority:    req.Priority,
	}
}

func toServiceStats(s stats.ServiceStats) types.ServiceStats {
	out := types.ServiceStats{
		Name:             s.Name,
		TotalCalls:       s.TotalCalls,
		SuccessfulCalls:  s.SuccessfulCalls,
		FailedCalls:      s.FailedCalls,
		TotalAttempts:    s.TotalAttempts,
		AverageAttempts:  s.AverageAttempts,
		SuccessRate:      s.SuccessRate,
		TotalRetryMS:     s.TotalRetryTime.Milliseconds(),
		AverageLatencyMS: s.AverageLatency.Milliseconds(),
	}
	if !s.LastSuccessAt.IsZero() {
		out.LastSuccessUnix = s.LastSuccessAt.Unix()
	}
	if !s.LastFailureAt.IsZero() {
		out.LastFailureUnix = s.LastFailureAt.Unix()
	}
	return out
}

// clientGone reports whether err is only the echo of the client
// disconnecting or the server shutting down.
func clientGone(r *http.Request, err error) bool {
	if !errors.Is(err, context.Canceled) {
		return false
	}
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
