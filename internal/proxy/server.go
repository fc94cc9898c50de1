// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
)

// AIDispatcher sends one already-routed HTTP request to the given AI
// provider endpoint and writes the (possibly streamed) response to w. It is
// the seam between the HTTP front-end and the LLM translation pipeline;
// see DESIGN.md for why it is not wired to internal/extproc directly yet.
type AIDispatcher interface {
	Dispatch(ctx context.Context, provider *NamedAIProvider, w http.ResponseWriter, r *http.Request) error
}

// BindAddress maps an abstract Bind key to the concrete address it listens on.
type BindAddress struct {
	Bind    Bind
	Address string
}

// Server accepts connections for a set of Binds and dispatches each request
// through bind -> listener -> route -> backend resolution.
type Server struct {
	Resolver     *Resolver
	AIDispatcher AIDispatcher
	Logger       *slog.Logger

	mu      sync.Mutex
	servers []*http.Server
}

// NewServer creates a Server bound to resolver. dispatcher may be nil, in
// which case requests routed to an AI backend receive a 501.
func NewServer(resolver *Resolver, dispatcher AIDispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Resolver: resolver, AIDispatcher: dispatcher, Logger: logger}
}

// ListenAndServe starts one HTTP listener per BindAddress and blocks until
// ctx is canceled, at which point all listeners are shut down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, binds []BindAddress) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(binds))

	for _, ba := range binds {
		ba := ba
		srv := &http.Server{
			Addr:    ba.Address,
			Handler: s.handlerForBind(ba.Bind),
		}
		s.mu.Lock()
		s.servers = append(s.servers, srv)
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Logger.Info("proxy listener starting", "bind", ba.Bind, "address", ba.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listener %s (%s) failed: %w", ba.Bind, ba.Address, err)
			}
		}()
	}

	<-ctx.Done()
	s.mu.Lock()
	for _, srv := range s.servers {
		_ = srv.Shutdown(context.Background())
	}
	s.mu.Unlock()
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// handlerForBind returns the http.Handler that resolves listener/route/
// backend for every request accepted on bind.
func (s *Server) handlerForBind(bind Bind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveHTTP(bind, w, r)
	}
}

func (s *Server) serveHTTP(bind Bind, w http.ResponseWriter, r *http.Request) {
	listener := s.Resolver.SelectListener(bind, "", r.Host)
	if listener == nil {
		http.Error(w, ErrRouteNotFound.Error(), http.StatusNotFound)
		return
	}

	route := SelectHTTPRoute(listener.HTTPRoutes, r.Host, func(rt *HTTPRoute) bool {
		return httpRouteMatches(rt, r)
	})
	if route == nil {
		http.Error(w, ErrRouteNotFound.Error(), http.StatusNotFound)
		return
	}

	backend, _, err := SelectBackend(route.Backends)
	if err != nil {
		s.Logger.Warn("backend resolution failed", "error", err, "path", r.URL.Path)
		switch {
		case errors.Is(err, ErrBackendDoesNotExist):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if backend.Provider != nil {
		s.dispatchAI(backend.Provider, w, r)
		return
	}
	s.dispatchOpaque(backend.Target, w, r)
}

// httpRouteMatches evaluates an HTTPRoute's path/method/header/query
// matchers against r. An empty Matches list matches everything.
func httpRouteMatches(rt *HTTPRoute, r *http.Request) bool {
	if len(rt.Matches) == 0 {
		return true
	}
	for _, m := range rt.Matches {
		if m.Method != "" && m.Method != r.Method {
			continue
		}
		if m.PathExact != "" && m.PathExact != r.URL.Path {
			continue
		}
		if m.PathPrefix != "" && len(r.URL.Path) >= len(m.PathPrefix) && r.URL.Path[:len(m.PathPrefix)] != m.PathPrefix {
			continue
		}
		if m.HeaderName != "" && r.Header.Get(m.HeaderName) != m.HeaderValue {
			continue
		}
		if m.QueryName != "" && r.URL.Query().Get(m.QueryName) != m.QueryValue {
			continue
		}
		return true
	}
	return false
}

func (s *Server) dispatchAI(provider *NamedAIProvider, w http.ResponseWriter, r *http.Request) {
	if s.AIDispatcher == nil {
		http.Error(w, "no AI dispatcher configured for this backend", http.StatusNotImplemented)
		return
	}
	if err := s.AIDispatcher.Dispatch(r.Context(), provider, w, r); err != nil {
		s.Logger.Error("AI dispatch failed", "provider", provider.Name, "error", err)
	}
}

func (s *Server) dispatchOpaque(target string, w http.ResponseWriter, r *http.Request) {
	targetURL := &url.URL{Scheme: "http", Host: target}
	rp := httputil.NewSingleHostReverseProxy(targetURL)
	origDirector := rp.Director
	rp.Director = func(req *http.Request) {
		origDirector(req)
		req.Host = targetURL.Host
	}
	rp.ServeHTTP(w, r)
}
