// Package httpapi provides the HTTP front end for the request queue.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/app/requests"
	"github.com/TheBlackParrot/SpinRequests/internal/app/resolver"
	"github.com/TheBlackParrot/SpinRequests/internal/domain/queue"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/spinshare"
)

// History is the slice of the session tracker the API needs.
type History interface {
	History(limit int, onlyPlayed bool) []*queue.Entry
}

// Server is the stateless HTTP front end. It translates GET requests into
// resolver/manager calls and returns JSON.
type Server struct {
	resolver *resolver.Resolver
	manager  *requests.Manager
	history  History

	httpServer *http.Server
}

// New creates the HTTP API server listening on addr.
func New(addr string, res *resolver.Resolver, manager *requests.Manager, history History) *Server {
	s := &Server{
		resolver: res,
		manager:  manager,
		history:  history,
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.route)
	return mux
}

// ListenAndServe runs the accept loop until the server is shut down.
func (s *Server) ListenAndServe() error {
	zlog.Info().Str("addr", s.httpServer.Addr).Msg("HTTP API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// message is the JSON error/info envelope.
type message struct {
	Message string `json:"message"`
}

// route dispatches on the first path segment, everything after it is the
// request token.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	zlog.Info().Str("path", r.URL.Path).Msg("GET request")

	if r.URL.Path == "/" || r.URL.Path == "" {
		s.writeJSON(w, http.StatusOK, message{Message: "Hello!"})
		return
	}

	head, token := splitPath(r.URL.EscapedPath())
	switch head {
	case "favicon.ico":
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusNotFound)
	case "query":
		s.handleQueryAdd(w, r, token, false)
	case "add":
		s.handleQueryAdd(w, r, token, true)
	case "queue":
		s.handleQueue(w, r)
	case "history":
		s.handleHistory(w, r)
	default:
		s.writeJSON(w, http.StatusNotImplemented, message{Message: "Not implemented"})
	}
}

// splitPath separates the route name from the request token: the first
// path segment routes, the last non-empty segment is the token, so
// trailing slashes and intermediate segments are harmless. Works on the
// raw path and unescapes the token exactly once.
func splitPath(escapedPath string) (string, string) {
	segments := strings.Split(strings.Trim(escapedPath, "/"), "/")
	head := strings.ToLower(segments[0])

	token := ""
	for i := len(segments) - 1; i >= 1; i-- {
		if segments[i] != "" {
			token = segments[i]
			break
		}
	}
	if unescaped, err := url.PathUnescape(token); err == nil {
		token = unescaped
	}
	return head, token
}

// handleQueryAdd resolves a token and, for /add, enqueues the result.
func (s *Server) handleQueryAdd(w http.ResponseWriter, r *http.Request, token string, addToQueue bool) {
	if token == "" {
		s.writeJSON(w, http.StatusBadRequest, message{Message: "Invalid request"})
		return
	}

	rc, err := parseRequestContext(r.URL.Query())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, message{Message: "Invalid request"})
		return
	}

	// Gate check up front so a closed queue costs no upstream calls.
	if addToQueue && !s.manager.IsOpen() && !rc.Force {
		s.writeJSON(w, http.StatusForbidden, message{Message: "The queue is closed"})
		return
	}

	details, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entry := queue.NewEntryFromDetail(details, rc)
	if addToQueue {
		if err := s.manager.Add(entry, requests.AddOptions{Force: rc.Force}); err != nil {
			s.writeError(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, s.manager.View(entry))
}

// handleQueue returns the active+buffered queue, optionally filtered by
// requester.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	s.writeJSON(w, http.StatusOK, s.manager.Views(s.manager.List(user)))
}

// handleHistory returns the session play history, most recent first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if v := query.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	onlyPlayed := false
	if v := query.Get("onlyPlayed"); v != "" {
		onlyPlayed, _ = strconv.ParseBool(v)
	}

	s.writeJSON(w, http.StatusOK, s.manager.Views(s.history.History(limit, onlyPlayed)))
}

// parseRequestContext decodes the URL query into the typed request
// context. Unknown parameters are ignored; force accepts any boolean-ish
// spelling.
func parseRequestContext(values url.Values) (*queue.RequestContext, error) {
	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}

	var rc queue.RequestContext
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build query decoder")
	}
	if err := decoder.Decode(flat); err != nil {
		return nil, errors.Wrap(err, "failed to decode query")
	}
	return &rc, nil
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, requests.ErrQueueClosed):
		s.writeJSON(w, http.StatusForbidden, message{Message: "The queue is closed"})
	case errors.Is(err, resolver.ErrNoResults):
		zlog.Info().Msg("no results found for search")
		s.writeJSON(w, http.StatusNotFound, message{Message: "No results for search"})
	case errors.Is(err, spinshare.ErrNotFound):
		zlog.Info().Msg("map doesn't exist")
		s.writeJSON(w, http.StatusNotFound, message{Message: "This map does not exist"})
	case errors.Is(err, spinshare.ErrTimeout):
		zlog.Info().Msg("upstream request timed out")
		s.writeJSON(w, http.StatusGatewayTimeout, message{Message: "SpinShare API request timed out"})
	default:
		zlog.Error().Err(err).Msg("upstream error")
		s.writeJSON(w, http.StatusInternalServerError, message{Message: err.Error()})
	}
}

// writeJSON serializes v with the fixed response headers. Connections are
// not reused; every response closes.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to serialize response")
		code = http.StatusInternalServerError
		data = []byte(fmt.Sprintf("{\"message\": %q}", "response serialization failed"))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
