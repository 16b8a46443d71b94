// Package pool implements the process-wide registry of live
// Connections keyed by (host, port), mirroring the client-registry
// pattern used elsewhere in this stack where a map guarded by a single
// mutex tracks live per-peer state. There is no cross-pool sharing:
// direct construction of a connection.Connection bypasses the pool
// entirely and always yields a fresh instance.
package pool

import (
	"sync"
	"time"

	"github.com/librescoot/inverter-link/pkg/connection"
	"github.com/librescoot/inverter-link/pkg/register"
	"github.com/librescoot/inverter-link/pkg/transport"
)

type key struct {
	host string
	port int
}

// Pool maps (host, port) to at most one live Connection.
type Pool struct {
	mu      sync.Mutex
	entries map[key]*connection.Connection
	cat     register.Catalog
	opts    connection.Options

	// dialFor builds the Dialer for a given (host, port); overridable
	// in tests to avoid real network dials.
	dialFor func(host string, port int) transport.Dialer
}

// New returns an empty Pool. cat and opts are applied to every
// Connection it constructs.
func New(cat register.Catalog, opts connection.Options) *Pool {
	return &Pool{
		entries: make(map[key]*connection.Connection),
		cat:     cat,
		opts:    opts,
		dialFor: func(host string, port int) transport.Dialer {
			return transport.NewTCPDialer(host, port, opts.DialTimeout)
		},
	}
}

// Get returns the existing Connection for (host, port) if one is
// registered and not yet closed, otherwise constructs and registers a
// new one. cacheTTL and cacheMax only take effect when a new
// Connection is constructed; an existing entry keeps its own cache
// configuration.
func (p *Pool) Get(host string, port int, cacheTTL, cacheMax int) (*connection.Connection, error) {
	k := key{host: host, port: port}

	p.mu.Lock()
	if existing, ok := p.entries[k]; ok {
		select {
		case <-existing.Closed():
			delete(p.entries, k)
		default:
			p.mu.Unlock()
			return existing, nil
		}
	}
	p.mu.Unlock()

	opts := p.opts
	if cacheTTL > 0 {
		opts.CacheTTL = time.Duration(cacheTTL) * time.Millisecond
	}
	if cacheMax > 0 {
		opts.CacheMaxSize = cacheMax
	}

	conn := connection.New(host, port, p.dialFor(host, port), p.cat, opts)
	conn.OnClose(func() { p.remove(k) })

	p.mu.Lock()
	if existing, ok := p.entries[k]; ok {
		p.mu.Unlock()
		return existing, nil
	}
	p.entries[k] = conn
	p.mu.Unlock()

	return conn, nil
}

func (p *Pool) remove(k key) {
	p.mu.Lock()
	delete(p.entries, k)
	p.mu.Unlock()
}

// Len reports the number of live entries, used by tests and by
// operators wanting a cheap liveness count.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Shutdown closes every live Connection and empties the pool. Matches
// the documented need for an explicit initializer/teardown pair in
// languages without a lazy module singleton.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := make([]*connection.Connection, 0, len(p.entries))
	for _, c := range p.entries {
		entries = append(entries, c)
	}
	p.entries = make(map[key]*connection.Connection)
	p.mu.Unlock()

	for _, c := range entries {
		c.Close()
	}
}

