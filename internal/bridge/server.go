// Package bridge lets a browser page lend its injected wallet to the
// staking core over a websocket. The page forwards provider requests to its
// wallet and pushes the wallet's accountsChanged and chainChanged events
// back; the core sees an ordinary wallet.Provider.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/internal/wallet"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 64
)

// ErrConnectionClosed is returned when writing to a closed bridge connection
var ErrConnectionClosed = errors.New("bridge connection closed")

// Config configures a bridge Server
type Config struct {
	AllowedOrigins    []string // Empty allows local pages only
	MessagesPerSecond float64  // Inbound messages per connection
	Burst             int
	Metrics           *metrics.Collector
}

// Server accepts wallet bridge connections. Only one page lends its wallet
// at a time; a newer connection replaces the older one.
type Server struct {
	slot     *wallet.ProviderSlot
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*connection]struct{}
	active *connection
	wg     sync.WaitGroup
	closed bool
}

// NewServer creates a bridge that installs the page's provider into slot
func NewServer(slot *wallet.ProviderSlot, cfg Config) *Server {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MessagesPerSecond) * 2
	}
	s := &Server{slot: slot, cfg: cfg, conns: make(map[*connection]struct{})}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request to a bridge connection
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("bridge upgrade failed",
			logging.Err(err),
			logging.Component("bridge"))
		return
	}

	c := newConnection(s, conn, r.RemoteAddr)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.cfg.Metrics.BridgeSessionOpened()
	logging.Info("bridge page connected",
		"remote", r.RemoteAddr,
		logging.Component("bridge"))

	// Started under mu so Close never waits on a group that is still growing.
	util.SafeGoTracked(&s.wg, "bridge-write", c.writePump)
	util.SafeGoTracked(&s.wg, "bridge-read", c.readPump)
}

// Connected reports whether a page currently lends its wallet
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// activate installs c's provider, replacing any earlier page
func (s *Server) activate(c *connection) {
	s.mu.Lock()
	previous := s.active
	s.active = c
	s.mu.Unlock()

	if previous != nil && previous != c {
		logging.Info("bridge page replaced by a newer connection", logging.Component("bridge"))
		previous.close()
	}
	s.slot.Set(c.provider)
}

// release uninstalls c's provider if it is still the active one
func (s *Server) release(c *connection) {
	s.mu.Lock()
	delete(s.conns, c)
	current := s.active == c
	if current {
		s.active = nil
	}
	s.mu.Unlock()

	if current {
		s.slot.Set(nil)
	}
	c.provider.shutdown()
	s.cfg.Metrics.BridgeSessionClosed()
	logging.Info("bridge page disconnected",
		"remote", c.remote,
		logging.Component("bridge"))
}

// ListenAndServe serves the bridge on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/wallet", s)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	util.SafeGoWithName("bridge-listener", func() {
		errCh <- srv.ListenAndServe()
	})
	logging.Info("wallet bridge listening",
		"addr", addr,
		logging.Component("bridge"))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close drops every page connection and waits for their goroutines
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
}

// connection is one page attached over a websocket
type connection struct {
	server   *Server
	conn     *websocket.Conn
	remote   string
	provider *remoteProvider
	limiter  *rate.Limiter

	outbound  chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConnection(s *Server, conn *websocket.Conn, remote string) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		server:   s,
		conn:     conn,
		remote:   remote,
		limiter:  rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
		outbound: make(chan []byte, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.provider = newRemoteProvider(c)
	return c
}

// send queues a message for the page
func (c *connection) send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case c.outbound <- data:
		return nil
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// readPump dispatches page messages until the connection fails
func (c *connection) readPump() {
	defer func() {
		c.close()
		c.server.release(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("bridge read error", logging.Err(err), logging.Component("bridge"))
			}
			return
		}
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debug("ignoring malformed bridge message", logging.Err(err), logging.Component("bridge"))
			continue
		}
		c.handle(&msg)
	}
}

func (c *connection) handle(msg *Message) {
	switch msg.Type {
	case TypeHello:
		var hello Hello
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &hello)
		}
		logging.Info("page wallet attached",
			"wallet", hello.Wallet,
			logging.Component("bridge"))
		c.server.activate(c)
		_ = c.send(&Message{Type: TypeHello})
	case TypeResponse:
		if !c.provider.resolve(msg) {
			logging.Debug("bridge response for unknown request", "id", msg.ID, logging.Component("bridge"))
		}
	case TypeEvent:
		if !c.provider.emit(msg.Event, msg.Data) {
			logging.Debug("ignoring unknown wallet event", "event", msg.Event, logging.Component("bridge"))
		}
	case TypePing:
		_ = c.send(&Message{Type: TypePong})
	default:
		logging.Debug("ignoring bridge message", "type", msg.Type, logging.Component("bridge"))
	}
}

// writePump writes queued messages and keeps the connection alive
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
