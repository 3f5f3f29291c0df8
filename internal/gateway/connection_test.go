package gateway

import (
	"log/slog"
	"testing"
	"time"
)

func testManager() *Manager {
	return NewManager(Config{
		ReconnectBaseDelay: 100 * time.Millisecond,
		ReconnectMaxDelay:  2 * time.Second,
		HeartbeatInterval:  time.Second,
	}, slog.Default())
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	t.Parallel()
	m := testManager()
	d := m.backoffDelay(10) // would overflow without the cap
	if d > m.cfg.ReconnectMaxDelay+time.Second {
		t.Errorf("backoff delay %s exceeds max+jitter bound", d)
	}
	if d < m.cfg.ReconnectMaxDelay {
		t.Errorf("backoff delay %s should be at least the max delay at high attempt counts", d)
	}
}

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	t.Parallel()
	m := testManager()
	d1 := m.backoffDelay(1)
	d2 := m.backoffDelay(2)
	// jitter adds up to 1s, base delay doubles (100ms -> 200ms), so d2 should
	// tend larger; compare against the deterministic floor (no jitter).
	if d1 < m.cfg.ReconnectBaseDelay {
		t.Errorf("attempt 1 delay %s should be >= base delay", d1)
	}
	if d2 < m.cfg.ReconnectBaseDelay*2 {
		t.Errorf("attempt 2 delay %s should be >= 2x base delay", d2)
	}
}

func testManagerWithMarkets() *Manager {
	return NewManager(Config{
		ReconnectBaseDelay:  100 * time.Millisecond,
		ReconnectMaxDelay:   2 * time.Second,
		HeartbeatInterval:   time.Second,
		MarketSubscriptions: []Subscription{{Channel: "bbo", Coin: "BTC"}, {Channel: "activeAssetCtx", Coin: "BTC"}, {Channel: "bbo", Coin: "ETH"}, {Channel: "activeAssetCtx", Coin: "ETH"}},
		UserAddress:         "0x0000000000000000000000000000000000000001",
	}, slog.Default())
}

func TestMarkSubscribedRequiresBothChannelsForEveryMarket(t *testing.T) {
	t.Parallel()
	m := testManagerWithMarkets()
	if m.ReadyPhase() != NotReady {
		t.Fatalf("initial phase = %v, want NotReady", m.ReadyPhase())
	}

	// One channel acked for one coin must not flip readiness for the feed.
	m.markSubscribed("bbo", "BTC")
	if m.ReadyPhase() != NotReady {
		t.Fatalf("phase after a single coin/channel ack = %v, want NotReady", m.ReadyPhase())
	}
	m.markSubscribed("activeAssetCtx", "BTC")
	if m.ReadyPhase() != NotReady {
		t.Fatalf("phase with BTC complete but ETH missing = %v, want NotReady", m.ReadyPhase())
	}

	m.markSubscribed("bbo", "ETH")
	m.markSubscribed("activeAssetCtx", "ETH")
	if m.ReadyPhase() != ReadyMD {
		t.Fatalf("phase once every configured market has both channels acked = %v, want ReadyMD", m.ReadyPhase())
	}

	m.markSubscribed("orderUpdates", "0x0000000000000000000000000000000000000001")
	if m.ReadyPhase() != ReadyTrading {
		t.Fatalf("phase after orderUpdates sub = %v, want ReadyTrading", m.ReadyPhase())
	}
}

func TestMarkSubscribedWithNoConfiguredMarketsNeverReachesReadyMD(t *testing.T) {
	t.Parallel()
	m := testManager() // no MarketSubscriptions configured
	m.markSubscribed("bbo", "BTC")
	if m.ReadyPhase() != NotReady {
		t.Fatalf("phase with an empty market set = %v, want NotReady (nothing to be ready for)", m.ReadyPhase())
	}
}

func TestPostInflightDecrementsOnPostMessage(t *testing.T) {
	t.Parallel()
	m := testManager()
	m.inflight.Store(3)
	m.handleInbound([]byte(`{"channel":"post","data":{"id":1,"response":{}}}`))
	if got := m.inflight.Load(); got != 2 {
		t.Errorf("inflight = %d, want 2 after a post response", got)
	}
}

func TestResetOnDisconnectZeroesInflightAndReady(t *testing.T) {
	t.Parallel()
	m := testManager()
	m.inflight.Store(5)
	m.ready.Store(int32(ReadyTrading))
	m.resetOnDisconnect()
	if m.inflight.Load() != 0 {
		t.Error("inflight should be zeroed on disconnect")
	}
	if m.ReadyPhase() != NotReady {
		t.Error("ready phase should reset to NotReady on disconnect")
	}
}

func TestTokenBucketRefusesWhenEmpty(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 1) // 1 token, refills 1/sec
	if !tb.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if tb.TryAcquire() {
		t.Fatal("expected second immediate acquire to be refused")
	}
}
