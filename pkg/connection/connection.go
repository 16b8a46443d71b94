// Package connection implements the per-(host,port) state machine: it
// owns a Transport, the reader loop that feeds inbound bytes through
// protocol.Decode, the pipeline.Pipeline that serializes callers, and
// the Cache that suppresses redundant reads. This is the "Connection"
// component of the design: transport lifecycle, reader loop, send
// path, idle timer.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/librescoot/inverter-link/pkg/cache"
	"github.com/librescoot/inverter-link/pkg/pipeline"
	"github.com/librescoot/inverter-link/pkg/protocol"
	"github.com/librescoot/inverter-link/pkg/register"
	"github.com/librescoot/inverter-link/pkg/telemetry"
	"github.com/librescoot/inverter-link/pkg/transport"
)

// State is one of the five states a Connection moves through during
// its lifetime. A Connection never revisits Idle once it leaves it.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrDeviceNotReady is terminal: the write pre-check found the status
// register non-zero.
type ErrDeviceNotReady struct {
	StatusID    uint32
	StatusValue any
}

func (e *ErrDeviceNotReady) Error() string {
	return fmt.Sprintf("connection: device not in normal operation, status register %#08x = %v", e.StatusID, e.StatusValue)
}

// Options configures a Connection's timeouts and retry behavior. Zero
// values are replaced with the documented defaults.
type Options struct {
	DialTimeout    time.Duration
	ReceiveTimeout time.Duration
	IdleTimeout    time.Duration
	Retry          pipeline.RetryPolicy

	// StatusRegisterID, if non-zero, is read before every write as a
	// readiness pre-check; a non-zero status value fails the write
	// terminally. Leave zero to skip the pre-check (used in tests and
	// for catalogs with no status register).
	StatusRegisterID uint32

	CacheTTL     time.Duration
	CacheMaxSize int

	Telemetry telemetry.Sink
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = 2 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 90 * time.Second
	}
	if o.Retry.MaxRetries <= 0 {
		o.Retry = pipeline.DefaultRetryPolicy()
	}
	if o.CacheMaxSize <= 0 {
		o.CacheMaxSize = 256
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 2 * time.Second
	}
	if o.Telemetry == nil {
		o.Telemetry = telemetry.Noop()
	}
	return o
}

// Connection is a single logical link to one device, serializing every
// caller onto one pipeline and one wire. All state mutation happens on
// the reader goroutine or inside pipeline jobs; see the design's
// single-threaded-cooperative model.
type Connection struct {
	host string
	port int
	opts Options
	dial transport.Dialer
	cat  register.Catalog

	pipeline *pipeline.Pipeline
	cache    *cache.Cache

	mu           sync.Mutex
	state        State
	tr           transport.Transport
	readBuf      []byte
	waiter       *pipeline.Waiter
	activeJobs   int
	pendingClose bool

	idleTimer *time.Timer
	closedCh  chan struct{}
	onClose   func()
}

// New constructs a Connection against host:port using dial to open the
// transport, without connecting yet. Connect happens lazily on first
// use (state Idle -> Connecting).
func New(host string, port int, dial transport.Dialer, cat register.Catalog, opts Options) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		host:     host,
		port:     port,
		opts:     opts,
		dial:     dial,
		cat:      cat,
		pipeline: pipeline.New(),
		cache:    cache.New(opts.CacheTTL, opts.CacheMaxSize),
		state:    StateIdle,
		closedCh: make(chan struct{}),
	}
	return c
}

// OnClose registers a callback invoked exactly once when the
// Connection reaches StateClosed, used by pool to remove its entry.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ensureReady connects if necessary, blocking until Ready or a
// terminal dial error. Must be called from outside the reader loop
// (it is invoked by job closures running on the pipeline goroutine).
func (c *Connection) ensureReady(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateClosed, StateClosing:
		c.mu.Unlock()
		return errors.New("connection: closed")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	type dialResult struct {
		tr  transport.Transport
		err error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		tr, err := c.dial.Dial()
		resultCh <- dialResult{tr, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			c.mu.Lock()
			c.state = StateClosed
			c.mu.Unlock()
			c.runOnClose()
			return fmt.Errorf("connection: %w", res.err)
		}
		c.mu.Lock()
		c.tr = res.tr
		c.state = StateReady
		c.mu.Unlock()
		go c.readLoop()
		c.resetIdleTimer()
		return nil
	case <-dialCtx.Done():
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.runOnClose()
		return fmt.Errorf("connection: dial %s:%d timed out", c.host, c.port)
	}
}

func (c *Connection) runOnClose() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	select {
	case <-c.closedCh:
	default:
		close(c.closedCh)
	}
}

// Query performs a READ of the given register, serving from cache
// when fresh, otherwise round-tripping the device through the
// pipeline with the connection's retry policy.
func (c *Connection) Query(ctx context.Context, reg register.Descriptor) (any, error) {
	if reg.WireType < register.Float32BE || reg.WireType > register.StringASCII {
		return nil, &register.ErrUnsupportedWireType{WireType: reg.WireType}
	}

	if dg, hit := c.cache.Get(reg.ID); hit {
		return reg.DecodeValue(dg.Data)
	}

	future := c.pipeline.Enqueue(func(jobCtx context.Context) (any, error) {
		return c.opts.Retry.Run(jobCtx, func(attemptCtx context.Context) (any, error) {
			return c.doRead(attemptCtx, reg.ID)
		})
	})
	c.bumpActiveJobs(1)
	value, err := future.Wait(ctx)
	c.jobCompleted()
	if err != nil {
		return nil, err
	}
	dg := value.(protocol.Datagram)
	return reg.DecodeValue(dg.Data)
}

// Write performs the pre-check, WRITE, and verify-READ sequence
// described for write jobs.
func (c *Connection) Write(ctx context.Context, reg register.Descriptor, value any) error {
	if !reg.Writable {
		return fmt.Errorf("%w: register %#08x is not writable", protocol.ErrInvalidArgument, reg.ID)
	}

	encoded, err := reg.EncodeValue(value)
	if err != nil {
		return err
	}

	future := c.pipeline.Enqueue(func(jobCtx context.Context) (any, error) {
		return c.opts.Retry.Run(jobCtx, func(attemptCtx context.Context) (any, error) {
			return c.doWrite(attemptCtx, reg, encoded)
		})
	})
	c.bumpActiveJobs(1)
	_, err = future.Wait(ctx)
	c.jobCompleted()
	return err
}

func (c *Connection) doRead(ctx context.Context, id uint32) (any, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	dg := protocol.Datagram{Cmd: protocol.CmdRead, ID: id}
	w := pipeline.NewWaiter(id, protocol.CmdResponse)
	c.setWaiter(w)

	if err := c.send(dg); err != nil {
		c.clearWaiter()
		return nil, err
	}

	resp, err := w.Await(ctx, c.opts.ReceiveTimeout)
	c.clearWaiter()
	if err != nil {
		return nil, err
	}

	c.cache.Put(id, resp)
	c.opts.Telemetry.RegisterRead(id, resp.Data)
	return resp, nil
}

func (c *Connection) doWrite(ctx context.Context, reg register.Descriptor, encoded []byte) (any, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	if c.opts.StatusRegisterID != 0 {
		statusDesc, ok := c.cat.Lookup(c.opts.StatusRegisterID)
		if ok {
			statusDg, err := c.doRead(ctx, c.opts.StatusRegisterID)
			if err != nil {
				return nil, err
			}
			statusValue, err := statusDesc.DecodeValue(statusDg.(protocol.Datagram).Data)
			if err != nil {
				return nil, err
			}
			if !isZero(statusValue) {
				return nil, &ErrDeviceNotReady{StatusID: c.opts.StatusRegisterID, StatusValue: statusValue}
			}
		}
	}

	writeDg := protocol.Datagram{Cmd: protocol.CmdWrite, ID: reg.ID, Data: encoded}
	readDg := protocol.Datagram{Cmd: protocol.CmdRead, ID: reg.ID}
	readWaiter := pipeline.NewWaiter(reg.ID, protocol.CmdResponse)
	c.setWaiter(readWaiter)
	if err := c.send(writeDg); err != nil {
		c.clearWaiter()
		return nil, err
	}
	if err := c.send(readDg); err != nil {
		c.clearWaiter()
		return nil, err
	}
	verify, err := readWaiter.Await(ctx, c.opts.ReceiveTimeout)
	c.clearWaiter()
	if err != nil {
		return nil, err
	}

	if len(verify.Data) != len(encoded) {
		return nil, protocol.NewRecoverable(protocol.KindIDMismatch, fmt.Errorf("write verify: length mismatch for register %#08x", reg.ID))
	}
	for i := range encoded {
		if verify.Data[i] != encoded[i] {
			return nil, protocol.NewRecoverable(protocol.KindIDMismatch, fmt.Errorf("write verify: byte %d mismatch for register %#08x", i, reg.ID))
		}
	}

	c.cache.Put(reg.ID, verify)
	c.opts.Telemetry.RegisterWrite(reg.ID, encoded)
	return nil, nil
}

func isZero(v any) bool {
	switch t := v.(type) {
	case uint8:
		return t == 0
	case uint16:
		return t == 0
	case uint32:
		return t == 0
	case float32:
		return t == 0
	case string:
		return t == ""
	default:
		return false
	}
}

func (c *Connection) setWaiter(w *pipeline.Waiter) {
	c.mu.Lock()
	c.waiter = w
	c.mu.Unlock()
}

func (c *Connection) clearWaiter() {
	c.mu.Lock()
	c.waiter = nil
	c.mu.Unlock()
}

func (c *Connection) send(dg protocol.Datagram) error {
	wire, err := protocol.Encode(dg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return errors.New("connection: not connected")
	}
	if _, err := tr.Write(wire); err != nil {
		return protocol.NewRecoverable(protocol.KindTransientWrite, err)
	}
	return nil
}

func (c *Connection) bumpActiveJobs(delta int) {
	c.mu.Lock()
	c.activeJobs += delta
	c.mu.Unlock()
}

func (c *Connection) jobCompleted() {
	c.mu.Lock()
	c.activeJobs--
	shouldClose := c.pendingClose && c.activeJobs <= 0
	c.mu.Unlock()
	c.resetIdleTimer()
	if shouldClose {
		c.finishClosing()
	}
}

func (c *Connection) resetIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.opts.IdleTimeout, func() {
		c.beginClosing()
	})
}

func (c *Connection) beginClosing() {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	active := c.activeJobs
	c.mu.Unlock()

	if active > 0 {
		c.mu.Lock()
		c.pendingClose = true
		c.mu.Unlock()
		return
	}
	c.finishClosing()
}

func (c *Connection) finishClosing() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	tr := c.tr
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	c.pipeline.Close()
	c.runOnClose()
}

// Close requests the Connection move to Closing. If jobs are still
// active the close is deferred until they drain (pendingClose), per
// the documented defer-close-while-busy semantics.
func (c *Connection) Close() {
	c.mu.Lock()
	state := c.state
	active := c.activeJobs
	c.mu.Unlock()

	switch state {
	case StateClosed:
		return
	case StateIdle, StateConnecting:
		c.finishClosing()
		return
	}

	if active > 0 {
		c.mu.Lock()
		c.pendingClose = true
		c.state = StateClosing
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.state = StateClosing
	c.mu.Unlock()
	c.finishClosing()
}

// Closed returns a channel closed once the Connection has fully
// transitioned to StateClosed.
func (c *Connection) Closed() <-chan struct{} {
	return c.closedCh
}

// readLoop is the single long-lived consumer of transport bytes. It
// appends to read_buffer then drains as many frames as the buffer
// allows, delivering each to the installed waiter or logging it as
// unsolicited. On a decoder error it fails the current waiter and
// discards the bytes Decode reports (at least one, up to and including
// the offending start byte) to resync.
func (c *Connection) readLoop() {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return
	}

	chunk := make([]byte, 4096)
	for {
		c.mu.Lock()
		closed := c.state == StateClosed
		c.mu.Unlock()
		if closed {
			return
		}

		_ = tr.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := tr.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.readBuf = append(c.readBuf, chunk[:n]...)
			c.mu.Unlock()
			c.drainFrames()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			c.onFatalError(err)
			return
		}
	}
}

func (c *Connection) drainFrames() {
	for {
		c.mu.Lock()
		cur := c.readBuf
		c.mu.Unlock()
		if len(cur) == 0 {
			return
		}

		dg, consumed, err := protocol.Decode(cur)
		switch {
		case err == nil:
			c.mu.Lock()
			c.readBuf = c.readBuf[consumed:]
			w := c.waiter
			c.mu.Unlock()
			if w != nil {
				w.Deliver(*dg)
			} else {
				log.Printf("connection: unsolicited frame cmd=%s id=%#08x discarded", dg.Cmd, dg.ID)
			}
		case errors.Is(err, protocol.ErrNeedMoreData):
			return
		case errors.Is(err, protocol.ErrGarbageFrame):
			c.mu.Lock()
			c.readBuf = c.readBuf[consumed:]
			c.mu.Unlock()
		default:
			var rec *protocol.Recoverable
			if errors.As(err, &rec) {
				c.mu.Lock()
				w := c.waiter
				c.waiter = nil
				if consumed <= 0 {
					consumed = 1
				}
				if consumed > len(c.readBuf) {
					consumed = len(c.readBuf)
				}
				c.readBuf = c.readBuf[consumed:]
				c.mu.Unlock()
				if w != nil {
					w.Fail(rec)
				} else {
					log.Printf("connection: recoverable parse error discarded: %v", rec)
				}
				continue
			}
			log.Printf("connection: unexpected decode error: %v", err)
			c.mu.Lock()
			if len(c.readBuf) > 0 {
				c.readBuf = c.readBuf[1:]
			}
			c.mu.Unlock()
		}
	}
}

func (c *Connection) onFatalError(err error) {
	log.Printf("connection: fatal transport error on %s:%d: %v", c.host, c.port, err)
	c.mu.Lock()
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()
	if w != nil {
		w.Fail(fmt.Errorf("connection: transport closed: %w", err))
	}
	c.finishClosing()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
