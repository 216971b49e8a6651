package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"spacegraph/internal/ingest"
	"spacegraph/internal/metrics"
)

// IngestOptions configures the ingestion endpoint
type IngestOptions struct {
	MaxMessageSize int
	// AllowedOrigins lists browser origins allowed to connect; empty
	// allows any, agents send no Origin header
	AllowedOrigins []string
}

// IngestHandler accepts agent websocket connections. Each text or binary
// frame is one raw message for the connection's session.
type IngestHandler struct {
	registry *ingest.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     IngestOptions
	upgrader websocket.Upgrader
}

// NewIngestHandler creates the ingestion endpoint. m may be nil.
func NewIngestHandler(reg *ingest.Registry, m *metrics.Metrics, logger *slog.Logger, opts IngestOptions) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = ingest.DefaultMaxMessageSize
	}
	h := &IngestHandler{
		registry: reg,
		metrics:  m,
		logger:   logger.With("component", "ingest"),
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 4 << 10,
	}
	return h
}

func (h *IngestHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP runs one ingestion session until the peer disconnects or the
// request context ends
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	// oversized frames up to this bound are read and dropped by the session,
	// larger ones end the connection
	conn.SetReadLimit(int64(h.opts.MaxMessageSize) * 4)

	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	connID := uuid.NewString()
	sessOpts := ingest.SessionOptions{
		MaxMessageSize: h.opts.MaxMessageSize,
		Logger:         h.logger,
	}
	if h.metrics != nil {
		sessOpts.Observer = h.metrics
		h.metrics.Sessions.Inc()
		defer h.metrics.Sessions.Dec()
	}
	sess := ingest.NewSession(connID, h.registry, sessOpts)
	defer sess.Close()

	h.logger.Info("agent connected", "conn", connID, "remote", r.RemoteAddr)

	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				h.logger.Warn("agent connection lost", "conn", connID, "source", sess.Key(), "error", err)
			}
			break
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}

		reply, err := sess.Handle(ctx, raw)
		if err != nil {
			h.logger.Warn("ingest session ended", "conn", connID, "source", sess.Key(), "error", err)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "queue unavailable"))
			break
		}
		if reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				break
			}
		}
	}

	st := sess.Stats()
	h.logger.Info("agent disconnected", "conn", connID, "source", sess.Key(), "drops", st.Drops, "late_identities", st.LateIdentities)
}
