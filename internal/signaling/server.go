// Package signaling runs the WebSocket side of the coordinator: it upgrades
// browser connections, decodes the wire protocol, and drives the relay.
package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peercall/coordinator/internal/config"
	"github.com/peercall/coordinator/internal/metrics"
	"github.com/peercall/coordinator/internal/origin"
	"github.com/peercall/coordinator/internal/protocol"
	"github.com/peercall/coordinator/internal/ratelimit"
	"github.com/peercall/coordinator/internal/relay"
)

// Server accepts signaling connections at GET /ws. Each connection gets one
// goroutine running its read loop plus a keepalive ticker; all cross-user
// state lives in the relay.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	coord    *relay.Coordinator
	m        *metrics.Metrics
	clock    ratelimit.Clock
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, coord *relay.Coordinator, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	checker := origin.NewChecker(cfg.AllowedOrigins)
	return &Server{
		cfg:   cfg,
		log:   logger,
		coord: coord,
		m:     m,
		clock: ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			CheckOrigin: checker.CheckRequest,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied (403 on origin rejection, 400 otherwise).
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	sess := &session{id: uuid.NewString(), conn: conn}
	log := s.log.With("conn_id", sess.id, "remote_addr", r.RemoteAddr)
	log.Debug("signaling connection opened")

	defer conn.Close()
	s.serve(sess, log)
}

func (s *Server) serve(sess *session, log *slog.Logger) {
	conn := sess.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	stopPings := s.startKeepalive(sess, log)
	defer stopPings()

	// Clients learn the ICE servers before anything else happens.
	if err := sess.Send(protocol.Message{
		Type:       protocol.TypeHeartbeat,
		ICEServers: s.cfg.ICEServers,
	}); err != nil {
		log.Debug("heartbeat send failed", "err", err)
		return
	}

	// Attach delivers the current roster and keeps this channel on the
	// presence fanout while it is still anonymous.
	s.coord.Attach(sess)

	perSecond := int64(s.cfg.MaxMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(s.clock, perSecond, perSecond)

	// name is set once signIn succeeds; the deferred Disconnect is a no-op
	// until then, and idempotent with an earlier explicit removal after.
	var name string
	defer func() {
		s.coord.Detach(sess)
		s.coord.Disconnect(name)
		log.Debug("signaling connection closed", "name", name)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		if !limiter.Allow(1) {
			s.m.Inc(metrics.RateLimited)
			log.Warn("message rate limit exceeded", "name", name)
			sess.close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			// Malformed input is reported but never fatal; a client bug must
			// not tear down an established call.
			s.m.Inc(metrics.MalformedMessage)
			log.Warn("malformed message", "name", name, "err", err)
			_ = sess.Send(protocol.Message{
				Type:    protocol.TypeError,
				Message: "Unrecognized message",
			})
			continue
		}

		if msg.Type == protocol.TypeSignIn {
			if name != "" {
				_ = sess.Send(protocol.Message{
					Type:    protocol.TypeError,
					Message: "Already signed in",
				})
				continue
			}
			if err := s.coord.SignIn(sess, msg.Name); err == nil {
				name = msg.Name
			}
			continue
		}

		if name == "" {
			_ = sess.Send(protocol.Message{
				Type:    protocol.TypeError,
				Message: "Sign in first",
			})
			continue
		}

		s.dispatch(sess, log, name, msg)
	}
}

// dispatch routes one message from a signed-in user. The sender identity is
// always the connection's bound name; a from field naming anyone else is
// rejected rather than trusted.
func (s *Server) dispatch(sess *session, log *slog.Logger, name string, msg protocol.Message) {
	if msg.From != "" && msg.From != name {
		s.m.Inc(metrics.MalformedMessage)
		log.Warn("message from field does not match signed-in name", "name", name, "from", msg.From)
		_ = sess.Send(protocol.Message{
			Type:    protocol.TypeError,
			Message: "Message sender does not match signed-in user",
		})
		return
	}

	switch msg.Type {
	case protocol.TypeCallRequest:
		s.coord.CallRequest(name, msg.To)
	case protocol.TypeCallAccept:
		s.coord.CallAccept(name, msg.To)
	case protocol.TypeCallDecline:
		s.coord.CallDecline(name)
	case protocol.TypeCallBusy:
		s.coord.CallBusy(name)
	case protocol.TypeSessionOffer, protocol.TypeSessionAnswer, protocol.TypeConnectivityCandidate:
		s.coord.ForwardSession(name, msg)
	case protocol.TypeLeave:
		s.coord.Leave(name)
	case protocol.TypeStatusUpdate:
		s.coord.UpdateStatus(name, msg.StatusPatch())
	case protocol.TypeHeartbeatReply:
		log.Debug("heartbeat reply", "name", name, "message", msg.Message)
	}
}

// startKeepalive pings the peer on the configured interval. Pongs extend the
// read deadline; a peer that stops answering gets dropped by the idle timeout.
func (s *Server) startKeepalive(sess *session, log *slog.Logger) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sess.ping(); err != nil {
					log.Debug("keepalive ping failed", "err", err)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
