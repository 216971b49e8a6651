package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"spacegraph/internal/codec"
	"spacegraph/internal/domain"
)

// DropReason says why a raw message was discarded
type DropReason string

const (
	DropDecode      DropReason = "decode"
	DropInvalid     DropReason = "invalid"
	DropUnknownType DropReason = "unknown_type"
	DropNamespace   DropReason = "namespace"
	DropTooLarge    DropReason = "too_large"
)

// DropReasons lists every reason, for metric pre-registration
var DropReasons = []DropReason{DropDecode, DropInvalid, DropUnknownType, DropNamespace, DropTooLarge}

// DefaultMaxMessageSize bounds one raw message
const DefaultMaxMessageSize = 1 << 20

// anonNamespace seeds synthetic source keys
var anonNamespace = uuid.MustParse("6f1c3b0e-3f7a-5d2e-9a51-1c0de5a9e7b4")

// AnonKey derives the synthetic key for a connection that never sent an
// identity. The same connection id always yields the same key.
func AnonKey(connID string) domain.NodeKey {
	return domain.NodeKey("anon-" + uuid.NewSHA1(anonNamespace, []byte(connID)).String())
}

// Observer receives ingest drop notifications. metrics.Metrics implements it.
type Observer interface {
	IngestDropped(reason string)
}

// SessionOptions configures a session
type SessionOptions struct {
	MaxMessageSize int
	Logger         *slog.Logger
	Observer       Observer
	// Now stamps incoming deltas; defaults to time.Now
	Now func() time.Time
}

// Session normalizes the raw messages of one connection into deltas on its
// source queue. Malformed input is dropped and counted, never fatal.
type Session struct {
	connID   string
	registry *Registry
	opts     SessionOptions
	logger   *slog.Logger
	limiter  *rate.Limiter

	queue     *Queue
	key       domain.NodeKey
	snapshots uint64

	mu             sync.Mutex
	drops          map[DropReason]uint64
	lateIdentities uint64
}

// NewSession creates a session for connection connID
func NewSession(connID string, reg *Registry, opts SessionOptions) *Session {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		connID:   connID,
		registry: reg,
		opts:     opts,
		logger:   opts.Logger.With("conn", connID),
		// one drop warning per second, bursts of five
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		drops:   make(map[DropReason]uint64),
	}
}

// Key returns the bound source key, empty before binding
func (s *Session) Key() domain.NodeKey {
	return s.key
}

// Handle processes one raw message. The returned reply, if any, is sent
// back on the connection. An error means the session cannot continue.
func (s *Session) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) > s.opts.MaxMessageSize {
		s.drop(DropTooLarge, fmt.Errorf("%d bytes", len(raw)))
		return nil, nil
	}

	env, err := codec.DecodeEnvelope(raw)
	if err != nil {
		s.dropErr(err)
		return nil, nil
	}

	switch env.Type {
	case codec.MsgHello:
		var hello codec.HelloData
		if len(env.Data) > 0 {
			if err := codec.DecodeData(env, &hello); err != nil {
				s.dropErr(err)
				return nil, nil
			}
		}
		s.logger.Debug("hello", "version", hello.Version)
		return nil, nil

	case codec.MsgPing:
		reply, err := codec.Encode(codec.MsgPong, nil)
		if err != nil {
			return nil, fmt.Errorf("encode pong: %w", err)
		}
		return reply, nil

	case codec.MsgIdentity:
		if s.queue != nil {
			s.mu.Lock()
			s.lateIdentities++
			s.mu.Unlock()
			s.logger.Debug("identity after bind ignored", "source", s.key)
			return nil, nil
		}
		var id codec.IdentityData
		if err := codec.DecodeData(env, &id); err != nil {
			s.dropErr(err)
			return nil, nil
		}
		s.bind(id.Identity())
		return nil, nil

	case codec.MsgEvent:
		s.ensureBound()
		var ev codec.EventData
		if err := codec.DecodeData(env, &ev); err != nil {
			s.dropErr(err)
			return nil, nil
		}
		d, ns, err := codec.DecodeDelta(ev.Delta)
		if err != nil {
			s.dropErr(err)
			return nil, nil
		}
		if !s.inNamespace(ns) {
			s.drop(DropNamespace, fmt.Errorf("ns %q", ns))
			return nil, nil
		}
		return nil, s.push(ctx, d)

	case codec.MsgSnapshot:
		s.ensureBound()
		var snap codec.SnapshotData
		if err := codec.DecodeData(env, &snap); err != nil {
			s.dropErr(err)
			return nil, nil
		}
		for _, n := range snap.Nodes {
			if !s.inNamespace(n.NS) {
				s.drop(DropNamespace, fmt.Errorf("snapshot node ns %q", n.NS))
				return nil, nil
			}
		}
		for _, e := range snap.Edges {
			if !s.inNamespace(e.NS) {
				s.drop(DropNamespace, fmt.Errorf("snapshot edge ns %q", e.NS))
				return nil, nil
			}
		}
		s.snapshots++
		batchID := fmt.Sprintf("snapshot-%d", s.snapshots)
		for _, d := range snap.Fragment().Deltas(batchID) {
			if err := s.push(ctx, d); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	s.drop(DropUnknownType, fmt.Errorf("message type %q", env.Type))
	return nil, nil
}

// Close detaches the session from its source. The queue and its sequence
// survive for a later reconnect.
func (s *Session) Close() {
	if s.queue != nil {
		s.registry.Detach(s.key)
	}
}

func (s *Session) bind(id domain.Identity) {
	s.key = id.NodeKey
	s.queue = s.registry.Attach(id)
	s.logger = s.logger.With("source", s.key)
	s.logger.Info("source bound", "host", id.Host, "os", id.OS, "version", id.Version)
}

func (s *Session) ensureBound() {
	if s.queue == nil {
		s.bind(domain.Identity{NodeKey: AnonKey(s.connID)})
	}
}

func (s *Session) inNamespace(ns string) bool {
	return ns == "" || domain.NodeKey(ns) == s.key
}

func (s *Session) push(ctx context.Context, d domain.Delta) error {
	if _, err := s.queue.Push(ctx, s.opts.Now(), d); err != nil {
		return fmt.Errorf("push to %s: %w", s.key, err)
	}
	return nil
}

func (s *Session) dropErr(err error) {
	switch {
	case errors.Is(err, codec.ErrDecode):
		s.drop(DropDecode, err)
	case errors.Is(err, codec.ErrUnknownType):
		s.drop(DropUnknownType, err)
	default:
		s.drop(DropInvalid, err)
	}
}

func (s *Session) drop(reason DropReason, err error) {
	s.mu.Lock()
	s.drops[reason]++
	s.mu.Unlock()
	if s.opts.Observer != nil {
		s.opts.Observer.IngestDropped(string(reason))
	}
	if s.limiter.Allow() {
		s.logger.Warn("message dropped", "reason", reason, "error", err)
	}
}

// SessionStats counts what a session discarded
type SessionStats struct {
	Drops          map[DropReason]uint64 `json:"drops"`
	LateIdentities uint64                `json:"late_identities"`
}

// Stats returns the session's drop counters
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	drops := make(map[DropReason]uint64, len(s.drops))
	for k, v := range s.drops {
		drops[k] = v
	}
	return SessionStats{Drops: drops, LateIdentities: s.lateIdentities}
}
