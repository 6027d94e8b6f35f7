package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spooky-finn/go-terminal-bridge/config"
	"github.com/spooky-finn/go-terminal-bridge/domain"
	"github.com/spooky-finn/go-terminal-bridge/domain/interfaces"
	"github.com/spooky-finn/go-terminal-bridge/helpers"
)

var logger = log.New(os.Stdout, "[terminal] ", log.LstdFlags)

var ErrNotConnected = errors.New("session is not connected")

const defaultAPITimeout = 10 * time.Second

// Session is one websocket session to the trading terminal API. It satisfies
// interfaces.TerminalSession; the connection manager owns its lifecycle and
// replaces the whole object when the transport wedges.
type Session struct {
	url        string
	dialer     *websocket.Dialer
	apiTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	pending   map[int]chan *Response
	tickers   map[string]*Ticker

	onDisconnected func()
	onTick         func(symbol string, upd *domain.MarketUpdate)
	onDepth        func(symbol string, bids, asks []domain.PriceLevel)
}

func NewSession(host string, port int) *Session {
	return &Session{
		url: fmt.Sprintf("ws://%s:%d/api", host, port),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		},
		apiTimeout: defaultAPITimeout,
		pending:    make(map[int]chan *Response),
		tickers:    make(map[string]*Ticker),
	}
}

// Connect dials the terminal and logs in under the given client id. A login
// rejected because the id is held by another process maps to
// interfaces.ErrClientIDInUse so callers can rotate ids without backoff.
func (s *Session) Connect(ctx context.Context, clientID int) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing terminal at %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.closing = false
	s.pending = make(map[int]chan *Response)
	s.tickers = make(map[string]*Ticker)
	s.mu.Unlock()

	go s.readLoop(conn)

	resp, err := s.call(ctx, newLoginRequest(clientID))
	if err != nil {
		conn.Close()
		return fmt.Errorf("terminal login: %w", err)
	}
	if resp.Error != "" {
		conn.Close()
		if strings.Contains(strings.ToLower(resp.Error), "in use") {
			return interfaces.ErrClientIDInUse
		}
		return fmt.Errorf("terminal login rejected: %s", resp.Error)
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	logger.Printf("connected to the terminal api (clientId=%d)", clientID)
	return nil
}

// Disconnect closes the session on purpose: the read loop's resulting error
// does not fire the disconnect handler.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.closing = true
	s.connected = false
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// CurrentTime is the heartbeat round trip: a request the terminal answers
// with its clock in unix milliseconds.
func (s *Session) CurrentTime(ctx context.Context) (time.Time, error) {
	resp, err := s.call(ctx, Request{ID: nextReqID(), Method: methodCurrentTime})
	if err != nil {
		return time.Time{}, err
	}
	if resp.Error != "" {
		return time.Time{}, errors.New(resp.Error)
	}

	var millis int64
	if err := json.Unmarshal(resp.Result, &millis); err != nil {
		return time.Time{}, fmt.Errorf("decoding terminal time: %w", err)
	}
	return time.UnixMilli(millis), nil
}

// ReqMarketData opens a live market-data stream for the instrument and
// returns its ticker handle.
func (s *Session) ReqMarketData(inst *domain.Instrument, tickList string, snapshot bool) (interfaces.LiveTicker, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	resp, err := s.call(context.Background(), newSubscribeRequest(inst, tickList, snapshot))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", inst.Symbol, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("subscribe %s rejected: %s", inst.Symbol, resp.Error)
	}

	ticker := newTicker(inst.Symbol)
	s.mu.Lock()
	s.tickers[inst.Symbol] = ticker
	s.mu.Unlock()

	return ticker, nil
}

func (s *Session) CancelMarketData(inst *domain.Instrument) error {
	s.mu.Lock()
	delete(s.tickers, inst.Symbol)
	s.mu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	return s.write(newUnsubscribeRequest(inst))
}

func (s *Session) OnDisconnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

func (s *Session) OnTick(fn func(symbol string, upd *domain.MarketUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

func (s *Session) OnDepth(fn func(symbol string, bids, asks []domain.PriceLevel)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDepth = fn
}

// call sends a numbered request and waits for its response.
func (s *Session) call(ctx context.Context, req Request) (*Response, error) {
	ch := make(chan *Response, 1)

	s.mu.Lock()
	s.pending[req.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	if err := s.write(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.apiTimeout):
		return nil, fmt.Errorf("timeout waiting for response to %s", req.Method)
	}
}

func (s *Session) write(req Request) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if config.DebugMode {
		logger.Printf("-> %s", helpers.ToJsonString(req))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(req)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}

		var probe struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			logger.Printf("dropping undecodable message: %s", err)
			continue
		}

		switch {
		case probe.ID != 0:
			s.routeResponse(msg)
		case probe.Type != "":
			s.dispatchEvent(msg)
		}
	}
}

func (s *Session) routeResponse(msg []byte) {
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		logger.Printf("dropping undecodable response: %s", err)
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	s.mu.Unlock()
	if ok {
		ch <- &resp
	}
}

func (s *Session) dispatchEvent(msg []byte) {
	var ev streamEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		logger.Printf("dropping undecodable event: %s", err)
		return
	}

	s.mu.Lock()
	ticker := s.tickers[ev.Symbol]
	onTick := s.onTick
	onDepth := s.onDepth
	s.mu.Unlock()

	switch ev.Type {
	case eventTypeTick:
		last := 0.0
		if ev.Update != nil {
			last = ev.Update.Last
		}
		if ticker != nil {
			ticker.observe(last, ev.ClosePrice, ev.MarketPrice)
		}
		if onTick != nil && ev.Update != nil {
			onTick(ev.Symbol, ev.Update)
		}
	case eventTypeDepth:
		if onDepth != nil {
			onDepth(ev.Symbol, ev.Bids, ev.Asks)
		}
	}
}

// handleReadError ends the read loop for one connection. Stale loops from a
// superseded connection must not signal a disconnect of the current one.
func (s *Session) handleReadError(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	wasLive := s.connected && !s.closing
	s.connected = false
	fn := s.onDisconnected
	s.mu.Unlock()

	if !wasLive {
		return
	}
	logger.Printf("connection lost: %s", err)
	if fn != nil {
		fn()
	}
}
