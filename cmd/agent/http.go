package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routeagent.ai/internal/persistence/indexdb"
	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/sim/agent"
)

type statusSource interface {
	Status() agent.Status
}

type timelineSource interface {
	Recent(ctx context.Context, category string, limit int) ([]protocol.TimelineRecord, error)
	Stats() indexdb.Stats
}

type routerDeps struct {
	Agent    statusSource
	WS       http.Handler
	Timeline timelineSource // nil when the index is disabled
	Admin    bool
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/v1/ws", d.WS)

	if !d.Admin {
		return r
	}
	// Local-only admin endpoints.
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(loopbackOnly)
		r.Get("/state", func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, d.Agent.Status())
		})
		r.Get("/timeline", func(rw http.ResponseWriter, r *http.Request) {
			if d.Timeline == nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "timeline index disabled"})
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			category := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("category")))
			entries, err := d.Timeline.Recent(r.Context(), category, limit)
			if err != nil {
				writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "entries": entries, "index": d.Timeline.Stats()})
		})
	})
	return r
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
