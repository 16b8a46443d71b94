// Package telemetry provides an optional observability hook a
// Connection calls after each successful register read or write. It
// never sits on the request path: a Sink failure is logged and
// otherwise ignored, and no Sink implementation is consulted by the
// cache or the pipeline.
package telemetry

// Sink receives a fire-and-forget notification for every successful
// register read or write. Implementations must not block the caller
// for long; Connection calls these synchronously from the job that
// produced the value.
type Sink interface {
	RegisterRead(id uint32, raw []byte)
	RegisterWrite(id uint32, raw []byte)
}

type noopSink struct{}

func (noopSink) RegisterRead(uint32, []byte)  {}
func (noopSink) RegisterWrite(uint32, []byte) {}

// Noop returns a Sink that discards every notification, the default
// when no telemetry backend is configured.
func Noop() Sink { return noopSink{} }
