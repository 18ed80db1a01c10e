package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/peercall/coordinator/internal/metrics"
	"github.com/peercall/coordinator/internal/relay"
)

func (s *Server) registerAPIRoutes() {
	s.mux.HandleFunc("GET /api/v1/connected", s.withAPIKey(s.handleConnected))
	s.mux.HandleFunc("GET /api/v1/users", s.withAPIKey(s.handleUsers))

	s.mux.HandleFunc("GET /api/room-password", s.handleRoomPasswordRequired)
	s.mux.HandleFunc("POST /api/room-password/validate", s.handleRoomPasswordValidate)

	s.mux.HandleFunc("GET /join", s.handleJoin)
}

// withAPIKey guards request/response endpoints. The Authorization header
// carries the shared secret verbatim; with no secret configured every call
// fails.
func (s *Server) withAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.opts.APIKey.VerifyRequest(r); err != nil {
			s.opts.Metrics.Inc(metrics.AuthFailure)
			s.log.Warn("api auth failure", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// handleConnected answers with a join link per signed-in user other than the
// requester, ready to hand to someone who should call them.
func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing user parameter"})
		return
	}

	links := []string{}
	for _, name := range s.opts.Coordinator.Names() {
		if name == user {
			continue
		}
		links = append(links, s.joinLink(user, name))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"users": s.opts.Coordinator.Names()})
}

// joinLink builds {base}/join?user=X&call=Y, appending the room password
// when entry is gated so the link works as-is.
func (s *Server) joinLink(user, call string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		base = "http://" + s.cfg.ListenAddr
	}

	q := url.Values{}
	q.Set("user", user)
	q.Set("call", call)
	if s.opts.RoomPassword.Required() {
		q.Set("password", s.cfg.RoomPassword)
	}
	return base + "/join?" + q.Encode()
}

func (s *Server) handleRoomPasswordRequired(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"required": s.opts.RoomPassword.Required()})
}

func (s *Server) handleRoomPasswordValidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	ok := s.opts.RoomPassword.Validate(body.Password)
	if !ok {
		s.opts.Metrics.Inc(metrics.AuthFailure)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": ok})
}

// handleJoin gates room entry for a join link: the username must be valid
// and, when gating is on, the password must match. The signaling client
// completes entry over /ws afterwards.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := q.Get("user")
	if !relay.ValidUsername(user) {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid username"})
		return
	}
	call := q.Get("call")
	if call != "" && !relay.ValidUsername(call) {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid call target"})
		return
	}
	if !s.opts.RoomPassword.Validate(q.Get("password")) {
		s.opts.Metrics.Inc(metrics.AuthFailure)
		WriteJSON(w, http.StatusForbidden, map[string]any{"error": "invalid room password"})
		return
	}

	resp := map[string]any{"ok": true, "user": user}
	if call != "" {
		resp["call"] = call
	}
	WriteJSON(w, http.StatusOK, resp)
}
