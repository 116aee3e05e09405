package tnc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"aprsgate/config"
	"aprsgate/kiss"
	"aprsgate/logging"
)

// minFrameLen is the shortest delimited token worth decoding: two FENDs,
// the type byte and at least one payload byte.
const minFrameLen = 4

const writeTimeout = 10 * time.Second

// Info is a point-in-time view of a connection.
type Info struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Online      bool      `json:"online"`
	Transmit    bool      `json:"transmit"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	LastRX      time.Time `json:"last_rx,omitzero"`
	FramesRX    uint64    `json:"frames_rx"`
	FramesTX    uint64    `json:"frames_tx"`
}

// Connection is one TNC endpoint and its reconnect state machine.
//
// The error listener is one-shot: the first error after a (re)connect is
// reported and disarms it, the following close re-arms it. A failed
// attempt therefore reports exactly one error. At most one reconnect timer
// is pending at any time.
type Connection struct {
	m           *Manager
	cfg         config.TNCConfig
	addr        string
	idleTimeout time.Duration

	writeMu sync.Mutex

	mu          sync.Mutex
	status      Status
	conn        io.ReadWriteCloser
	attempt     int
	pending     Timer
	timerSeq    uint64
	armed       bool
	gen         uint64
	stopped     bool
	cancel      context.CancelFunc
	lastErr     error
	connectedAt time.Time
	lastRX      time.Time
	framesRX    uint64
	framesTX    uint64
}

func newConnection(m *Manager, cfg config.TNCConfig) *Connection {
	idle := m.idleTimeout
	if cfg.IdleTimeout != nil {
		idle = *cfg.IdleTimeout
	}
	return &Connection{
		m:           m,
		cfg:         cfg,
		addr:        cfg.Address(),
		idleTimeout: idle,
		status:      StatusIdle,
		armed:       true,
	}
}

// Address returns host:port or the serial device path.
func (c *Connection) Address() string {
	return c.addr
}

// Info returns a snapshot of the connection state.
func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := Info{
		Name:        c.cfg.Name,
		Address:     c.addr,
		Description: c.cfg.Description,
		Status:      c.status,
		Online:      c.conn != nil,
		Transmit:    c.cfg.Transmit,
		Attempts:    c.attempt,
		ConnectedAt: c.connectedAt,
		LastRX:      c.lastRX,
		FramesRX:    c.framesRX,
		FramesTX:    c.framesTX,
	}
	if c.lastErr != nil {
		info.LastError = c.lastErr.Error()
	}
	return info
}

// Online reports whether the connection has a live stream.
func (c *Connection) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// connect starts a dial attempt.
func (c *Connection) connect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.attempt++
	c.gen++
	gen := c.gen
	c.status = StatusConnecting
	ctx, cancel := context.WithTimeout(context.Background(), c.m.connectTimeout)
	c.cancel = cancel
	c.m.wg.Add(1)
	c.mu.Unlock()

	logging.DebugConnect("tnc", c.addr)
	c.m.emitState(c)
	go c.dial(ctx, cancel, gen)
}

func (c *Connection) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.m.wg.Done()
	conn, err := c.m.dialer.Dial(ctx, c.cfg)
	cancel()

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.cancel = nil
	if err != nil {
		c.mu.Unlock()
		logging.DebugConnectError("tnc", c.addr, err)
		c.fail(gen, fmt.Errorf("connect %s: %w", c.addr, err))
		c.closed(gen, "connect failed")
		return
	}
	c.conn = conn
	c.status = StatusOnline
	c.connectedAt = c.m.clock.Now()
	c.lastErr = nil
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.m.wg.Add(1)
	c.mu.Unlock()

	logging.DebugConnectSuccess("tnc", c.addr, fmt.Sprintf("attempt %d", c.Info().Attempts))
	c.m.emitState(c)
	go c.read(gen, conn)
}

func (c *Connection) read(gen uint64, conn io.ReadWriteCloser) {
	defer c.m.wg.Done()

	sc := bufio.NewScanner(&idleReader{conn: conn, timeout: c.idleTimeout, addr: c.addr})
	sc.Buffer(make([]byte, 0, 1024), 2*kiss.MaxFrameLen)
	sc.Split(kiss.ScanFrames)
	for sc.Scan() {
		tok := sc.Bytes()
		if len(tok) < minFrameLen {
			continue
		}
		frame := append([]byte(nil), tok[1:len(tok)-1]...)
		if !c.received(gen) {
			return
		}
		logging.DebugRX("kiss", tok)
		c.m.emitFrame(c.addr, frame)
	}
	if err := sc.Err(); err != nil {
		c.fail(gen, fmt.Errorf("read %s: %w", c.addr, err))
		c.closed(gen, err.Error())
		return
	}
	c.closed(gen, "EOF")
}

// received updates the receive counters. It reports false when the
// connection has been superseded or stopped.
func (c *Connection) received(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || gen != c.gen {
		return false
	}
	c.framesRX++
	c.lastRX = c.m.clock.Now()
	return true
}

// Send writes a KISS frame. The leading FEND is not sent; the trailing one
// terminates the frame.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	conn, gen := c.conn, c.gen
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNotOnline, c.addr)
	}

	data := frame
	if len(data) > 0 && data[0] == kiss.FEND {
		data = data[1:]
	}

	c.writeMu.Lock()
	if wd, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if err := wd.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			logging.DebugError("tnc", c.addr+" write deadline", err)
		}
	}
	_, err := conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		err = fmt.Errorf("write %s: %w", c.addr, err)
		c.writeFailed(gen, conn, err)
		return err
	}

	c.mu.Lock()
	c.framesTX++
	c.mu.Unlock()
	logging.DebugTX("kiss", data)
	return nil
}

// writeFailed drops the stream and takes the error path. The reader then
// observes the closed stream and completes the Closed transition.
func (c *Connection) writeFailed(gen uint64, conn io.ReadWriteCloser, err error) {
	c.mu.Lock()
	if c.stopped || gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	c.fail(gen, err)
}

// fail handles an error event. With the listener disarmed it does nothing.
func (c *Connection) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.stopped || gen != c.gen || !c.armed {
		c.mu.Unlock()
		return
	}
	c.armed = false
	c.status = StatusError
	c.lastErr = err
	c.scheduleLocked()
	c.mu.Unlock()

	c.m.emitError(c.addr, err)
	c.m.emitState(c)
}

// closed handles the close event that ends every attempt.
func (c *Connection) closed(gen uint64, reason string) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.status = StatusClosed
	c.armed = true
	c.scheduleLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	logging.DebugDisconnect("tnc", c.addr, reason)
	c.m.emitState(c)
}

// scheduleLocked arms the reconnect timer unless one is already pending.
func (c *Connection) scheduleLocked() {
	if c.pending != nil || c.stopped {
		return
	}
	c.timerSeq++
	seq := c.timerSeq
	c.pending = c.m.clock.AfterFunc(c.m.reconnectDelay, func() {
		c.reconnect(seq)
	})
}

func (c *Connection) reconnect(seq uint64) {
	c.mu.Lock()
	if c.stopped || c.pending == nil || seq != c.timerSeq {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.status = StatusReconnecting
	c.mu.Unlock()

	logging.DebugLog("tnc", "reconnecting to %s", c.addr)
	c.m.emitState(c)
	c.connect()
}

// hasPendingReconnect is used by tests.
func (c *Connection) hasPendingReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// stop moves to Stopped: timers and dials are cancelled before the stream
// is closed.
func (c *Connection) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.status = StatusStopped
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// idleReader applies the inbound idle timeout to streams that support read
// deadlines. The first timeout half-closes the stream; the next one closes
// it and ends the read loop with io.EOF.
type idleReader struct {
	conn       io.ReadWriteCloser
	timeout    time.Duration
	addr       string
	halfClosed bool
	closed     bool
}

func (r *idleReader) Read(p []byte) (int, error) {
	dl, canDeadline := r.conn.(interface{ SetReadDeadline(time.Time) error })
	canDeadline = canDeadline && r.timeout > 0
	for {
		if r.closed {
			return 0, io.EOF
		}
		if canDeadline {
			if err := dl.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
				logging.DebugError("tnc", r.addr+" read deadline", err)
			}
		}
		n, err := r.conn.Read(p)
		if err == nil || n > 0 {
			return n, err
		}

		var ne net.Error
		if !canDeadline || !errors.As(err, &ne) || !ne.Timeout() {
			if r.closed {
				return 0, io.EOF
			}
			return 0, err
		}

		if !r.halfClosed {
			r.halfClosed = true
			if cw, ok := r.conn.(interface{ CloseWrite() error }); ok {
				logging.DebugLog("tnc", "%s idle for %s, half-closing", r.addr, r.timeout)
				if err := cw.CloseWrite(); err != nil {
					logging.DebugError("tnc", r.addr+" half-close", err)
				}
				continue
			}
		}
		logging.DebugLog("tnc", "%s idle for %s, closing", r.addr, r.timeout)
		r.conn.Close()
		r.closed = true
		return 0, io.EOF
	}
}
