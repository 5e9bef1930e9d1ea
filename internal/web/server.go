// Package web serves the daemon's status over HTTP: an HTML page for
// people, JSON for scripts and a health check for watchdogs.
package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sweeney/carberryd/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// view renders one snapshot. It returns the HTTP status to answer with.
type view func(w io.Writer, snap status.Snapshot) int

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	for _, r := range []struct {
		paths       []string
		contentType string
		render      view
	}{
		{[]string{"/", "/index.html"}, "text/html; charset=utf-8", indexView},
		{[]string{"/index.json"}, "application/json", jsonView},
		{[]string{"/healthz"}, "text/plain; charset=utf-8", healthView},
	} {
		h := s.handler(r.paths, r.contentType, r.render)
		for _, p := range r.paths {
			mux.Handle(p, h)
		}
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handler answers GET and HEAD on exactly the given paths with a fresh
// snapshot rendered by render.
func (s *Server) handler(paths []string, contentType string, render view) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !matches(paths, r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := s.tracker.Snapshot()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		if snap.LinkConnected {
			w.Header().Set("X-Carberry-Link", "up")
		} else {
			w.Header().Set("X-Carberry-Link", "down")
		}

		var body bytes.Buffer
		code := render(&body, snap)
		w.WriteHeader(code)
		if r.Method == http.MethodGet {
			w.Write(body.Bytes())
		}
	})
}

func matches(paths []string, p string) bool {
	for _, want := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func indexView(w io.Writer, snap status.Snapshot) int {
	renderHTML(w, snap)
	return http.StatusOK
}

func jsonView(w io.Writer, snap status.Snapshot) int {
	w.Write(status.FormatJSON(snap))
	return http.StatusOK
}

// healthView answers 200 while the board link is up and 503 otherwise.
func healthView(w io.Writer, snap status.Snapshot) int {
	if !snap.LinkConnected {
		fmt.Fprintf(w, "link down (%d reconnects)\n", snap.Reconnects)
		return http.StatusServiceUnavailable
	}
	fmt.Fprintln(w, "ok")
	return http.StatusOK
}
