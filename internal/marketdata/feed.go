package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/infra"
	"amarktai_core/pkg/quant"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Feed maintains a websocket subscription to the market-data provider and
// keeps the Cache current. It reconnects with exponential backoff and
// never blocks anything on the order path: the simulator only ever reads
// the cache.
type Feed struct {
	url     string
	symbols []string
	cache   *Cache
	prov    domain.Provenance

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// tradeMessage is the provider's trade tick. Prices arrive as strings and
// are parsed with decimal to avoid float drift at the boundary.
type tradeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type subscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// NewFeed creates a feed writing into cache. Public endpoints yield demo
// provenance; authenticated ones verified.
func NewFeed(url string, symbols []string, cache *Cache, prov domain.Provenance) *Feed {
	return &Feed{
		url:          url,
		symbols:      symbols,
		cache:        cache,
		prov:         prov,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start launches the connection loop.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.runLoop(ctx)
}

// Stop terminates the feed.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.close()
	f.wg.Wait()
}

func (f *Feed) runLoop(ctx context.Context) {
	defer f.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			slog.Warn("Market feed connection failed",
				slog.String("url", f.url), slog.Any("error", err), slog.Int("retry", retry))
			delay := infra.ReconnectDelay(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0 // Reset on successful connect
		f.process(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	sub, err := json.Marshal(subscribeMessage{Op: "subscribe", Args: f.symbols})
	if err != nil {
		f.close()
		return fmt.Errorf("failed to marshal subscribe: %w", err)
	}
	if err := f.write(websocket.TextMessage, sub); err != nil {
		f.close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	go f.pingLoop(ctx)

	slog.Info("📡 Market feed connected",
		slog.String("url", f.url), slog.Int("symbols", len(f.symbols)))
	return nil
}

func (f *Feed) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		c := f.conn
		f.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("Market feed read error", slog.Any("error", err))
			f.close()
			return
		}

		f.onMessage(msg)
	}
}

func (f *Feed) onMessage(msg []byte) {
	var tick tradeMessage
	if err := json.Unmarshal(msg, &tick); err != nil || tick.Type != "trade" {
		return // control frames and unknown messages are ignored
	}

	price, err := parsePriceMicros(tick.Price)
	if err != nil {
		slog.Warn("Market feed bad price",
			slog.String("symbol", tick.Symbol), slog.String("price", tick.Price))
		return
	}
	f.cache.Set(tick.Symbol, price, f.prov)
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			c := f.conn
			f.mu.RUnlock()
			if c == nil {
				return
			}
			if err := f.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("Market feed ping error", slog.Any("error", err))
				f.close()
				return
			}
		}
	}
}

func (f *Feed) write(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	c := f.conn
	f.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("ws not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// parsePriceMicros converts a decimal price string to micros without
// passing through float64.
func parsePriceMicros(s string) (quant.PriceMicros, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	micros := d.Shift(6).IntPart()
	if micros <= 0 {
		return 0, fmt.Errorf("non-positive price %s", s)
	}
	return quant.PriceMicros(micros), nil
}
