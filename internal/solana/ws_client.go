package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errWSClosed       = errors.New("websocket client closed")
	errWSDisconnected = errors.New("websocket not connected")
)

// WSConfig tunes WSSubscriber. Zero fields take the defaults.
type WSConfig struct {
	// ReconnectMin and ReconnectMax bound the exponential redial delay.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	// PongWait is how long the connection may stay silent before it is
	// considered dead. Any frame, including a pong, extends it.
	PongWait         time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for the subscription ID.
	SubscribeTimeout time.Duration
	Logger           *zap.Logger
}

// DefaultWSConfig returns the WebSocket defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		PingInterval:     20 * time.Second,
		PongWait:         60 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	def := DefaultWSConfig()
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = def.ReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(def.ReconnectMax, c.ReconnectMin)
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = def.SubscribeTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// watch is one signature waiting for its notification.
type watch struct {
	signature  string
	commitment Commitment
	ch         chan SignatureNotification
	once       sync.Once
}

// finish delivers n, if any, and closes the channel. Only the first call counts.
func (w *watch) finish(n *SignatureNotification) {
	w.once.Do(func() {
		if n != nil {
			w.ch <- *n
		}
		close(w.ch)
	})
}

// request is a signatureSubscribe call awaiting its reply. reply is nil for
// resubscriptions nobody waits on.
type request struct {
	w     *watch
	reply chan error
}

// WSSubscriber watches signatures over a single WebSocket connection.
// A supervisor goroutine redials with exponential backoff when the connection
// drops and re-issues every outstanding subscription on the new one.
type WSSubscriber struct {
	endpoint string
	cfg      WSConfig
	logger   *zap.Logger
	dialer   websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closer sync.Once

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]*request // by request ID
	active  map[int64]*watch    // by subscription ID
}

var _ WSClient = (*WSSubscriber)(nil)

// NewWSClient dials endpoint and starts the connection supervisor. ctx bounds
// only the first dial; the client lives until Close.
func NewWSClient(ctx context.Context, endpoint string, cfg WSConfig) (*WSSubscriber, error) {
	cfg = cfg.withDefaults()

	runCtx, cancel := context.WithCancel(context.Background())
	s := &WSSubscriber{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   cfg.Logger,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[uint64]*request),
		active:   make(map[int64]*watch),
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	s.conn = conn

	go s.run(conn)
	return s, nil
}

// SignatureSubscribe registers signature and waits for the node to accept the
// subscription. The returned channel yields at most one notification and is
// closed after it, or when the client closes.
func (s *WSSubscriber) SignatureSubscribe(ctx context.Context, signature string, commitment Commitment) (<-chan SignatureNotification, error) {
	if s.ctx.Err() != nil {
		return nil, errWSClosed
	}
	if commitment == "" {
		commitment = CommitmentConfirmed
	}

	w := &watch{
		signature:  signature,
		commitment: commitment,
		ch:         make(chan SignatureNotification, 1),
	}
	reply := make(chan error, 1)
	// While disconnected the request stays pending and goes out on the next connection.
	if err := s.send(&request{w: w, reply: reply}); err != nil && !errors.Is(err, errWSDisconnected) {
		s.forget(w)
		return nil, err
	}

	timer := time.NewTimer(s.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
		return w.ch, nil
	case <-timer.C:
		s.forget(w)
		return nil, fmt.Errorf("signatureSubscribe %s: no reply within %s", signature, s.cfg.SubscribeTimeout)
	case <-ctx.Done():
		s.forget(w)
		return nil, ctx.Err()
	case <-s.done:
		return nil, errWSClosed
	}
}

// Close stops the supervisor and closes every outstanding subscription channel.
func (s *WSSubscriber) Close() error {
	s.closer.Do(func() {
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		<-s.done

		s.mu.Lock()
		defer s.mu.Unlock()
		for id, w := range s.active {
			w.finish(nil)
			delete(s.active, id)
		}
		for id, r := range s.pending {
			r.w.finish(nil)
			delete(s.pending, id)
		}
	})
	return nil
}

// send registers r under a fresh request ID and writes signatureSubscribe.
// On a write failure r stays registered so the next resubscription retries it.
func (s *WSSubscriber) send(r *request) error {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = r
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errWSDisconnected
	}

	msg := wsRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "signatureSubscribe",
		Params:  []any{r.w.signature, map[string]any{"commitment": r.w.commitment}},
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write signatureSubscribe: %w", err)
	}
	return nil
}

// forget drops every registration of w.
func (s *WSSubscriber) forget(w *watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.pending {
		if r.w == w {
			delete(s.pending, id)
		}
	}
	for id, aw := range s.active {
		if aw == w {
			delete(s.active, id)
		}
	}
}

// run serves conn until it fails, then redials and resubscribes, until Close.
func (s *WSSubscriber) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}

		conn = s.redial()
		if conn == nil || !s.attach(conn) {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		s.resubscribe()
	}
}

// attach installs conn unless the client is closing.
func (s *WSSubscriber) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *WSSubscriber) redial() *websocket.Conn {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectMin
	b.MaxInterval = s.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	dial := func() error {
		c, _, err := s.dialer.DialContext(s.ctx, s.endpoint, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn("websocket redial failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(b, s.ctx), notify); err != nil {
		return nil
	}
	s.logger.Info("websocket reconnected")
	return conn
}

// resubscribe re-issues every outstanding watch. Subscription IDs from the
// previous connection are void, so active watches move back to pending.
// A signature that confirmed meanwhile is reported by the node right away.
func (s *WSSubscriber) resubscribe() {
	s.mu.Lock()
	var again []*request
	for id, w := range s.active {
		again = append(again, &request{w: w})
		delete(s.active, id)
	}
	for id, r := range s.pending {
		again = append(again, r)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, r := range again {
		if err := s.send(r); err != nil {
			s.logger.Warn("resubscribe failed", zap.String("signature", r.w.signature), zap.Error(err))
		}
	}
	if len(again) > 0 {
		s.logger.Info("resubscribed signatures", zap.Int("count", len(again)))
	}
}

// serve reads conn until it fails, pinging it on the side.
func (s *WSSubscriber) serve(conn *websocket.Conn) {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()
	go s.ping(conn, stop)

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("websocket read failed, reconnecting", zap.Error(err))
			}
			return
		}
		extend()
		s.dispatch(msg)
	}
}

func (s *WSSubscriber) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// dispatch routes one frame. Frames are read sequentially, so a subscription
// is active before any notification for it is handled.
func (s *WSSubscriber) dispatch(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Debug("unparseable websocket frame", zap.Error(err))
		return
	}

	switch {
	case env.Method == "signatureNotification" && env.Params != nil:
		s.notify(env.Params)
	case env.ID != 0:
		s.accept(&env)
	}
}

// accept handles a signatureSubscribe reply.
func (s *WSSubscriber) accept(env *wsEnvelope) {
	var subID int64
	var err error
	if env.Error != nil {
		err = env.Error
	} else if jerr := json.Unmarshal(env.Result, &subID); jerr != nil {
		err = fmt.Errorf("parse subscription id: %w", jerr)
	}

	s.mu.Lock()
	r, ok := s.pending[env.ID]
	if ok {
		delete(s.pending, env.ID)
		if err == nil {
			s.active[subID] = r.w
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		return
	case r.reply != nil:
		r.reply <- err
	case err != nil:
		s.logger.Warn("resubscribe rejected", zap.String("signature", r.w.signature), zap.Error(err))
	}
}

// notify delivers a signatureNotification and retires its subscription.
func (s *WSSubscriber) notify(params *wsNotificationParams) {
	s.mu.Lock()
	w, ok := s.active[params.Subscription]
	delete(s.active, params.Subscription)
	s.mu.Unlock()
	if !ok {
		return
	}

	var value struct {
		Err any `json:"err"`
	}
	if err := json.Unmarshal(params.Result.Value, &value); err != nil {
		s.logger.Debug("unparseable signature notification", zap.Error(err))
	}

	n := SignatureNotification{Signature: w.signature, Err: value.Err}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}
	w.finish(&n)
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// wsEnvelope covers subscription replies, errors and notifications.
type wsEnvelope struct {
	ID     uint64                `json:"id,omitempty"`
	Result json.RawMessage       `json:"result,omitempty"`
	Error  *RPCError             `json:"error,omitempty"`
	Method string                `json:"method,omitempty"`
	Params *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context *struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
}
