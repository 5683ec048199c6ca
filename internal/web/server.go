// Package web serves the token redemption endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/joebot/utilbot/internal/resolve"
)

const cacheControl = "public, must-revalidate, immutable"

// Resolver redeems tokens.
type Resolver interface {
	Resolve(ctx context.Context, data, mac string) (*resolve.Result, error)
}

// Options configures a Server.
type Options struct {
	// AllowOrigins lists the origins allowed to read responses. "*" allows
	// any origin. Empty disables CORS headers.
	AllowOrigins []string
	// Addr is the TCP listen address, used when UnixSocket is empty.
	Addr string
	// UnixSocket is a socket path to listen on instead of Addr.
	UnixSocket string
}

// Server is the HTTP front of the resolver.
type Server struct {
	resolver Resolver
	opts     Options
	router   *mux.Router
}

// NewServer builds the router.
func NewServer(resolver Resolver, opts Options) *Server {
	s := &Server{resolver: resolver, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/v1", s.HandleRedeem()).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/healthz", s.HandleHealth()).Methods(http.MethodGet)
	r.Use(mux.CORSMethodMiddleware(r), s.corsMiddleware)
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HandleRedeem serves GET /v1?d=<payload>&m=<mac>.
func (s *Server) HandleRedeem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		q := r.URL.Query()
		res, err := s.resolver.Resolve(r.Context(), q.Get("d"), q.Get("m"))
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				slog.Error("redeem failed", "err", err)
			} else {
				slog.Debug("redeem rejected", "status", status, "err", err)
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		body, err := json.Marshal(res.Entry)
		if err != nil {
			slog.Error("encode redeem response failed", "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "application/json")
		h.Set("Expires", time.Unix(res.Expires, 0).UTC().Format(http.TimeFormat))
		h.Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

// HandleHealth serves GET /healthz.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	}
}

// statusFor maps a resolution error to its HTTP status. Malformed and
// unauthenticated requests look the same to the client.
func statusFor(err error) int {
	switch resolve.KindOf(err) {
	case resolve.KindMalformed, resolve.KindUnauthenticated, resolve.KindNotOwned:
		return http.StatusBadRequest
	case resolve.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", "*")
			h.Set("Access-Control-Expose-Headers", "Expires, Cache-Control")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if slices.Contains(s.opts.AllowOrigins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.opts.AllowOrigins, origin) {
		return origin
	}
	return ""
}

// Listen opens the configured listener. A stale UNIX socket file is removed
// first and the new socket is made world-writable so a reverse proxy running
// as another user can connect.
func (s *Server) Listen() (net.Listener, error) {
	if path := s.opts.UnixSocket; path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", path, err)
		}
		if err := os.Chmod(path, 0o666); err != nil {
			ln.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
		return ln, nil
	}

	addr := s.opts.Addr
	if addr == "" {
		return nil, errors.New("no listen address configured")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve runs the server on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("redeem endpoint listening", "addr", describe(ln))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func describe(ln net.Listener) string {
	addr := ln.Addr()
	if addr.Network() == "unix" {
		return "unix:" + addr.String()
	}
	return strings.TrimPrefix(addr.String(), "[::]")
}
