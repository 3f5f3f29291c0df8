// Package gateway owns the WebSocket connection to the tenant DEX feed:
// dial/backoff/reconnect, subscription restore with pacing, heartbeat, and
// the rate-limited fire-and-forget write handle. Grounded directly on the
// teacher's internal/exchange/ws.go WSFeed (dial loop, ping loop,
// dispatch-by-event-type, typed output channels), generalized from two
// fixed feeds to one configurable feed with an explicit ready-phase state
// machine and a cooperative cancellation token.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

// ReadyPhase is the connection's subscription-readiness latch.
type ReadyPhase int32

const (
	NotReady ReadyPhase = iota
	ReadyMD
	ReadyTrading
)

func (p ReadyPhase) CanObserve() bool { return p == ReadyMD || p == ReadyTrading }
func (p ReadyPhase) CanTrade() bool   { return p == ReadyTrading }

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// Subscription is one outbound subscribe target.
type Subscription struct {
	Channel string
	Coin    string
}

// Config tunes backoff, heartbeat and the subscription set.
type Config struct {
	URL                   string
	MaxReconnectAttempts  int // 0 = infinite
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration
	HeartbeatInterval     time.Duration
	HeartbeatTimeout      time.Duration
	SubscriptionPaceDelay time.Duration

	MarketSubscriptions []Subscription
	UserAddress         string // empty => no order-updates/user-fills subscription
}

// InboundMessage is a decoded-enough-to-route payload handed to the
// orchestrator.
type InboundMessage struct {
	Raw     []byte
	Channel string
}

// Manager owns the connection lifecycle and exposes inbound messages plus
// a WriteHandle for fire-and-forget posts.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	state    atomic.Int32
	ready    atomic.Int32
	inflight atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn

	inboundCh  chan InboundMessage
	outboundCh chan outboundMsg

	limiter  *TokenBucket
	postID   atomic.Uint64

	marketCoins []string // distinct coins that must ack both bbo and activeAssetCtx before ReadyMD

	subscribedMu sync.Mutex
	subscribed   map[string]bool

	lastInboundAt atomic.Value // time.Time
	awaitingPong  atomic.Bool
}

type outboundMsg struct {
	text     []byte
	isPost   bool
	id       uint64
	resultCh chan error
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	log := logger.With("component", "gateway")
	if cfg.UserAddress != "" {
		if !common.IsHexAddress(cfg.UserAddress) {
			log.Warn("invalid user address, order-updates/user-fills subscription disabled", "address", cfg.UserAddress)
			cfg.UserAddress = ""
		} else {
			cfg.UserAddress = common.HexToAddress(cfg.UserAddress).Hex()
		}
	}

	m := &Manager{
		cfg:         cfg,
		logger:      log,
		inboundCh:   make(chan InboundMessage, 1024),
		outboundCh:  make(chan outboundMsg, 256),
		limiter:     newPostRateLimiter(),
		subscribed:  make(map[string]bool),
		marketCoins: distinctCoins(cfg.MarketSubscriptions),
	}
	m.lastInboundAt.Store(time.Now())
	return m
}

// distinctCoins returns the unique coin names present in subs, in
// first-seen order.
func distinctCoins(subs []Subscription) []string {
	seen := make(map[string]bool, len(subs))
	coins := make([]string, 0, len(subs))
	for _, s := range subs {
		if !seen[s.Coin] {
			seen[s.Coin] = true
			coins = append(coins, s.Coin)
		}
	}
	return coins
}

// Inbound returns the channel of routed inbound messages.
func (m *Manager) Inbound() <-chan InboundMessage { return m.inboundCh }

// ReadyPhase returns the current subscription-readiness latch.
func (m *Manager) ReadyPhase() ReadyPhase { return ReadyPhase(m.ready.Load()) }

// State returns the current connection lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// WriteHandle returns a thin, cloneable façade for posts and raw sends.
func (m *Manager) WriteHandle() *WriteHandle { return &WriteHandle{m: m} }

// Run drives the connect/reconnect loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			m.state.Store(int32(Disconnected))
			return ctx.Err()
		default:
		}

		m.state.Store(int32(Connecting))
		err := m.connectAndServe(ctx)
		m.resetOnDisconnect()

		if ctx.Err() != nil {
			m.state.Store(int32(Disconnected))
			return ctx.Err()
		}

		attempt++
		if m.cfg.MaxReconnectAttempts > 0 && attempt > m.cfg.MaxReconnectAttempts {
			return fmt.Errorf("exceeded max reconnect attempts: %w", err)
		}

		m.state.Store(int32(Reconnecting))
		delay := m.backoffDelay(attempt)
		m.logger.Warn("connection lost, reconnecting", "error", err, "attempt", attempt, "delay", delay)

		// Biased: the cancellation check wins ties against the backoff timer.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.state.Store(int32(Disconnected))
			return ctx.Err()
		default:
		}
		select {
		case <-ctx.Done():
			timer.Stop()
			m.state.Store(int32(Disconnected))
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	base := m.cfg.ReconnectBaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := m.cfg.ReconnectMaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20 // guard against overflow on long reconnect runs
	}
	delay := base * time.Duration(1<<uint(shift))
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	return delay + jitter
}

func (m *Manager) resetOnDisconnect() {
	// Any awaited responses will never arrive over a dead socket.
	m.ready.Store(int32(NotReady))
	m.inflight.Store(0)
	m.subscribedMu.Lock()
	m.subscribed = make(map[string]bool)
	m.subscribedMu.Unlock()
}

func (m *Manager) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
	m.state.Store(int32(Connected))

	defer func() {
		m.connMu.Lock()
		conn.Close()
		m.conn = nil
		m.connMu.Unlock()
	}()

	readCh := make(chan []byte, 256)
	readErrCh := make(chan error, 1)
	go m.readLoop(conn, readCh, readErrCh)

	if err := m.restoreSubscriptions(ctx, readCh); err != nil {
		return fmt.Errorf("restore subscriptions: %w", err)
	}

	heartbeat := time.NewTicker(m.cfg.heartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-readCh:
			if !ok {
				return <-readErrCh
			}
			m.handleInbound(raw)
		case out := <-m.outboundCh:
			err := m.writeRaw(out.text)
			if out.resultCh != nil {
				out.resultCh <- err
			}
		case <-heartbeat.C:
			if err := m.checkHeartbeat(); err != nil {
				return err
			}
		}
	}
}

func (c Config) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return 45 * time.Second
	}
	return c.HeartbeatInterval
}

func (m *Manager) readLoop(conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		out <- msg
	}
}

func (m *Manager) checkHeartbeat() error {
	last := m.lastInboundAt.Load().(time.Time)
	timeout := m.cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 2 * m.cfg.heartbeatInterval()
	}
	if time.Since(last) > timeout && m.awaitingPong.Load() {
		return fmt.Errorf("heartbeat timeout: no pong within %s", timeout)
	}
	if time.Since(last) > m.cfg.heartbeatInterval() && !m.awaitingPong.Load() {
		m.awaitingPong.Store(true)
		return m.writeRaw([]byte(`{"method":"ping"}`))
	}
	return nil
}

// restoreSubscriptions issues one subscribe message per channel+coin with
// pacing, draining the read channel between sends so the peer's
// subscription response buffer never overflows.
func (m *Manager) restoreSubscriptions(ctx context.Context, readCh <-chan []byte) error {
	pace := m.cfg.SubscriptionPaceDelay
	if pace <= 0 {
		pace = 100 * time.Millisecond
	}

	targets := append([]Subscription{}, m.cfg.MarketSubscriptions...)
	if m.cfg.UserAddress != "" {
		targets = append(targets,
			Subscription{Channel: "orderUpdates", Coin: m.cfg.UserAddress},
			Subscription{Channel: "userFills", Coin: m.cfg.UserAddress},
		)
	}

	for _, sub := range targets {
		msg, err := json.Marshal(map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type": sub.Channel,
				"coin": sub.Coin,
			},
		})
		if err != nil {
			return err
		}
		if err := m.writeRaw(msg); err != nil {
			return err
		}

		timer := time.NewTimer(pace)
	drain:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case raw, ok := <-readCh:
				if !ok {
					timer.Stop()
					return fmt.Errorf("connection closed while restoring subscriptions")
				}
				m.handleInbound(raw)
			case <-timer.C:
				break drain
			}
		}
	}
	return nil
}

type envelopePeek struct {
	Channel      string `json:"channel"`
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
	} `json:"subscription"`
}

func (m *Manager) handleInbound(raw []byte) {
	m.lastInboundAt.Store(time.Now())

	var peek envelopePeek
	if err := json.Unmarshal(raw, &peek); err != nil {
		m.logger.Debug("ignoring non-json message")
		return
	}

	switch {
	case peek.Channel == "pong":
		m.awaitingPong.Store(false)
		return
	case peek.Channel == "subscriptionResponse" || peek.Method == "subscribe" || peek.Method == "unsubscribe":
		if peek.Method == "subscribe" {
			m.markSubscribed(peek.Subscription.Type, peek.Subscription.Coin)
		}
		return
	case peek.Channel == "post":
		m.inflight.Add(-1)
		m.deliver(raw, peek.Channel)
		return
	default:
		m.deliver(raw, peek.Channel)
	}
}

// markSubscribed records a single channel+coin subscribe ack. ReadyMD is
// only promoted once every market in marketCoins has acked both "bbo" and
// "activeAssetCtx" — a single ack for one channel on one coin must not
// flip readiness for the whole feed.
func (m *Manager) markSubscribed(channelType, coin string) {
	m.subscribedMu.Lock()
	m.subscribed[channelType+":"+coin] = true
	hasMD := len(m.marketCoins) > 0
	for _, c := range m.marketCoins {
		if !m.subscribed["bbo:"+c] || !m.subscribed["activeAssetCtx:"+c] {
			hasMD = false
			break
		}
	}
	hasTrading := hasMD && m.cfg.UserAddress != "" && m.subscribed["orderUpdates:"+m.cfg.UserAddress]
	m.subscribedMu.Unlock()

	switch {
	case hasTrading:
		m.ready.Store(int32(ReadyTrading))
	case hasMD:
		m.ready.Store(int32(ReadyMD))
	}
}

func (m *Manager) deliver(raw []byte, channel string) {
	select {
	case m.inboundCh <- InboundMessage{Raw: raw, Channel: channel}:
	default:
		m.logger.Warn("inbound channel full, dropping message", "channel", channel)
	}
}

func (m *Manager) writeRaw(data []byte) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("not connected")
	}
	m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}
