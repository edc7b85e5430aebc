package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"upldis/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready bool   `json:"ready"`
	Store string `json:"store"`
	Cache string `json:"cache"`
}
type PurgeResponse struct {
	Tag    string `json:"tag"`
	Purged int    `json:"purged"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready pings the store and the edge concurrently. Only the store gates
// readiness; a broken edge degrades to origin-only serving.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{Ready: true, Store: "up", Cache: "up"}
	var g errgroup.Group
	g.Go(func() error {
		pctx, pcancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer pcancel()
		if err := s.store.Ping(pctx); err != nil {
			util.Error().Err(err).Msg("store health check failed")
			resp.Store = "down"
			return err
		}
		return nil
	})
	if s.edge != nil {
		g.Go(func() error {
			pctx, pcancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer pcancel()
			if err := s.edge.Ping(pctx); err != nil {
				util.Warn().Err(err).Msg("cache health check failed")
				resp.Cache = "down"
			}
			return nil
		})
	} else {
		resp.Cache = "disabled"
	}
	if err := g.Wait(); err != nil {
		resp.Ready = false
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
func (s *Server) Purge(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	n, err := s.paste.Purge(r.Context(), tag)
	if err != nil {
		util.Error().Err(err).Str("tag", tag).Msg("purge failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "purge failed"})
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Tag: tag, Purged: n})
}
