package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/librescoot/inverter-link/pkg/protocol"
	"github.com/librescoot/inverter-link/pkg/register"
	"github.com/librescoot/inverter-link/pkg/transport"
	"github.com/stretchr/testify/require"
)

// pipeTransport adapts a net.Conn (from net.Pipe) to transport.Transport.
type pipeTransport struct {
	net.Conn
}

func (p pipeTransport) SetReadDeadline(t time.Time) error { return p.Conn.SetReadDeadline(t) }

// testDialer hands the Connection one end of a net.Pipe and keeps the
// other end so the test can play the device side of the wire.
type testDialer struct {
	client net.Conn
	device net.Conn
}

func newTestDialer() *testDialer {
	client, device := net.Pipe()
	return &testDialer{client: client, device: device}
}

func (d *testDialer) Dial() (transport.Transport, error) {
	return pipeTransport{Conn: d.client}, nil
}

// readFrame reads exactly one encoded datagram's worth of bytes off
// conn by decoding incrementally, used by the fake-device goroutines in
// these tests to recover what Connection sent.
func readFrame(t *testing.T, conn net.Conn) protocol.Datagram {
	t.Helper()
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	for {
		dg, consumed, err := protocol.Decode(buf)
		if err == nil {
			_ = consumed
			return *dg
		}
		n, rerr := conn.Read(chunk)
		if rerr != nil {
			t.Fatalf("readFrame: %v", rerr)
		}
		buf = append(buf, chunk[:n]...)
	}
}

func writeFrame(t *testing.T, conn net.Conn, dg protocol.Datagram) {
	t.Helper()
	wire, err := protocol.Encode(dg)
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)
}

func testOptions() Options {
	return Options{
		DialTimeout:    time.Second,
		ReceiveTimeout: 500 * time.Millisecond,
		IdleTimeout:    time.Hour,
		CacheTTL:       50 * time.Millisecond,
		CacheMaxSize:   16,
	}
}

func TestQuerySuccessRoundTrip(t *testing.T) {
	d := newTestDialer()
	defer d.device.Close()

	cat := register.ExampleCatalog()
	reg, _ := cat.Lookup(register.IDSolarPowerW)

	conn := New("device", 1, d, cat, testOptions())
	defer conn.Close()

	go func() {
		req := readFrame(t, d.device)
		require.Equal(t, protocol.CmdRead, req.Cmd)
		require.Equal(t, register.IDSolarPowerW, req.ID)

		data := make([]byte, 4)
		// 1234.5 as float32 big-endian
		wireVal, _ := reg.EncodeValue(float32(1234.5))
		copy(data, wireVal)
		writeFrame(t, d.device, protocol.Datagram{Cmd: protocol.CmdResponse, ID: register.IDSolarPowerW, Data: data})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	value, err := conn.Query(ctx, reg)
	require.NoError(t, err)
	require.Equal(t, float32(1234.5), value)
}

func TestQueryServesFromCacheOnSecondCall(t *testing.T) {
	d := newTestDialer()
	defer d.device.Close()

	cat := register.ExampleCatalog()
	reg, _ := cat.Lookup(register.IDSolarPowerW)

	conn := New("device", 1, d, cat, testOptions())
	defer conn.Close()

	requests := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := readFrame(t, d.device)
		requests++
		wireVal, _ := reg.EncodeValue(float32(42))
		writeFrame(t, d.device, protocol.Datagram{Cmd: protocol.CmdResponse, ID: req.ID, Data: wireVal})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v1, err := conn.Query(ctx, reg)
	require.NoError(t, err)
	require.Equal(t, float32(42), v1)

	<-done

	v2, err := conn.Query(ctx, reg)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, requests)
}

func TestQueryTimesOutWhenDeviceSilent(t *testing.T) {
	d := newTestDialer()
	defer d.device.Close()

	cat := register.ExampleCatalog()
	reg, _ := cat.Lookup(register.IDSolarPowerW)

	opts := testOptions()
	opts.ReceiveTimeout = 50 * time.Millisecond
	opts.Retry.MaxRetries = 1
	opts.Retry.InitialBackoff = time.Millisecond

	conn := New("device", 1, d, cat, opts)
	defer conn.Close()

	go func() {
		_ = readFrame(t, d.device)
		// device never answers
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Query(ctx, reg)
	require.Error(t, err)
}

func TestWriteRejectsNonWritableRegister(t *testing.T) {
	d := newTestDialer()
	defer d.device.Close()

	cat := register.ExampleCatalog()
	reg, _ := cat.Lookup(register.IDSolarPowerW) // read-only in the example catalog

	conn := New("device", 1, d, cat, testOptions())
	defer conn.Close()

	err := conn.Write(context.Background(), reg, float32(1))
	require.Error(t, err)
}

func TestWriteSucceedsWithVerifyRead(t *testing.T) {
	d := newTestDialer()
	defer d.device.Close()

	cat := register.ExampleCatalog()
	reg, _ := cat.Lookup(register.IDOperatingMode)

	conn := New("device", 1, d, cat, testOptions())
	defer conn.Close()

	go func() {
		writeReq := readFrame(t, d.device)
		if writeReq.Cmd != protocol.CmdWrite {
			t.Errorf("expected write, got %s", writeReq.Cmd)
		}
		writeFrame(t, d.device, protocol.Datagram{Cmd: protocol.CmdResponse, ID: writeReq.ID, Data: writeReq.Data})

		readReq := readFrame(t, d.device)
		if readReq.Cmd != protocol.CmdRead {
			t.Errorf("expected read, got %s", readReq.Cmd)
		}
		writeFrame(t, d.device, protocol.Datagram{Cmd: protocol.CmdResponse, ID: readReq.ID, Data: writeReq.Data})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := conn.Write(ctx, reg, uint8(register.OperatingModeManual))
	require.NoError(t, err)
}

func TestSingleFlightSerializesConcurrentQueries(t *testing.T) {
	d := newTestDialer()
	defer d.device.Close()

	cat := register.ExampleCatalog()
	reg, _ := cat.Lookup(register.IDSolarPowerW)

	conn := New("device", 1, d, cat, testOptions())
	defer conn.Close()

	const n = 5
	order := make(chan int, n)

	go func() {
		for i := 0; i < n; i++ {
			req := readFrame(t, d.device)
			time.Sleep(10 * time.Millisecond)
			wireVal, _ := reg.EncodeValue(float32(i))
			writeFrame(t, d.device, protocol.Datagram{Cmd: protocol.CmdResponse, ID: req.ID, Data: wireVal})
		}
	}()

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err := conn.Query(ctx, reg)
			order <- i
			results <- err
		}(i)
		time.Sleep(2 * time.Millisecond) // encourage enqueue order to match launch order
	}

	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}

	got := make([]int, n)
	for i := 0; i < n; i++ {
		got[i] = <-order
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}
