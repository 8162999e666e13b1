package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	rlog "routeagent.ai/internal/log"
	"routeagent.ai/internal/metrics"
	"routeagent.ai/internal/session"
	"routeagent.ai/internal/sim/agent"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub is the agent loop as seen by the transport.
type Hub interface {
	Join(ctx context.Context, o session.Observer) error
	Deliver(ctx context.Context, in agent.Inbound) error
	Leave(id string)
}

type Options struct {
	// QueueSize bounds each connection's outbound buffer. When it is full
	// frames are dropped rather than stalling the agent loop.
	QueueSize int
	// ReadLimit caps a single inbound frame, in bytes.
	ReadLimit int64
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

type Server struct {
	hub  Hub
	log  zerolog.Logger
	opts Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(hub Hub, opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true } // dev default
	}
	return &Server{
		hub:  hub,
		log:  rlog.WithComponent("ws"),
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// conn is the session.Observer for one WebSocket. The agent loop only ever
// calls Send; the frames are written by the connection's writer goroutine.
type conn struct {
	id     string
	out    chan []byte
	closed atomic.Bool
}

func (c *conn) ID() string { return c.id }
func (c *conn) Open() bool { return !c.closed.Load() }

func (c *conn) Send(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.out <- frame:
		return true
	default:
		metrics.IncDropped("backpressure")
		return false
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := &conn{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, s.opts.QueueSize),
		}
		if err := s.hub.Join(r.Context(), c); err != nil {
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "agent stopped"), time.Now().Add(time.Second))
			return
		}
		log := s.log.With().Str("observer", c.id).Str("remote", r.RemoteAddr).Logger()
		log.Debug().Msg("connected")

		defer func() {
			c.closed.Store(true)
			s.hub.Leave(c.id)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						writeErr <- err
						return
					}
				case <-ping.C:
					if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop. Frames are forwarded raw; decoding happens on the
		// agent loop so errors are answered in order with everything else.
		ws.SetReadLimit(s.opts.ReadLimit)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("read")
				}
				break
			}
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
			if err := s.hub.Deliver(ctx, agent.Inbound{ObserverID: c.id, Frame: msg}); err != nil {
				break
			}
		}

		cancel()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive ws.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Debug().Msg("disconnected")
	}
}
