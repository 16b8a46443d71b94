package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/librescoot/inverter-link/pkg/protocol"
)

// Waiter is the single-shot slot a job installs before sending a
// request, so the reader loop has somewhere to deliver the matching
// response. Correlation is purely positional: whatever the reader loop
// delivers next is assumed to be this request's answer, and is
// accepted or rejected by id and command, never by a wire-level tag.
type Waiter struct {
	expectID  uint32
	expectCmd protocol.Command
	resultCh  chan waiterOutcome
}

type waiterOutcome struct {
	dg  protocol.Datagram
	err error
}

// NewWaiter creates a Waiter expecting a datagram with the given id and
// command (typically protocol.CmdResponse).
func NewWaiter(expectID uint32, expectCmd protocol.Command) *Waiter {
	return &Waiter{
		expectID:  expectID,
		expectCmd: expectCmd,
		resultCh:  make(chan waiterOutcome, 1),
	}
}

// Deliver hands the reader loop's next decoded datagram to the waiter.
// A mismatch on id or command resolves the waiter with a recoverable
// error rather than silently dropping the frame, since on a half-duplex
// link it is assumed to be this request's (wrong) answer.
func (w *Waiter) Deliver(dg protocol.Datagram) {
	if dg.ID == w.expectID && dg.Cmd == w.expectCmd {
		w.resultCh <- waiterOutcome{dg: dg}
		return
	}
	err := protocol.NewRecoverable(protocol.KindIDMismatch,
		fmt.Errorf("expected %s id %#08x, got %s id %#08x", w.expectCmd, w.expectID, dg.Cmd, dg.ID))
	w.resultCh <- waiterOutcome{err: err}
}

// Fail resolves the waiter with err directly, used when the decoder
// itself reported a structural or CRC error while this waiter was
// installed.
func (w *Waiter) Fail(err error) {
	w.resultCh <- waiterOutcome{err: err}
}

// Await blocks until the waiter resolves, the receive timeout elapses,
// or ctx is done.
func (w *Waiter) Await(ctx context.Context, timeout time.Duration) (protocol.Datagram, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-w.resultCh:
		return o.dg, o.err
	case <-timer.C:
		return protocol.Datagram{}, protocol.NewRecoverable(protocol.KindReceiveTimeout, fmt.Errorf("no response within %s", timeout))
	case <-ctx.Done():
		return protocol.Datagram{}, ctx.Err()
	}
}
