package cache

import (
	"testing"
	"time"

	"github.com/librescoot/inverter-link/pkg/protocol"
)

func dg(id uint32) protocol.Datagram {
	return protocol.Datagram{Cmd: protocol.CmdResponse, ID: id}
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(time.Second, 10)
	if _, hit := c.Get(1); hit {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPutThenGetHits(t *testing.T) {
	c := New(time.Second, 10)
	c.Put(1, dg(1))
	got, hit := c.Get(1)
	if !hit {
		t.Fatal("expected hit")
	}
	if got.ID != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	c := New(50*time.Millisecond, 10)
	c.now = func() time.Time { return now }

	c.Put(1, dg(1))
	c.now = func() time.Time { return now.Add(100 * time.Millisecond) }

	if _, hit := c.Get(1); hit {
		t.Fatal("expected miss after ttl elapsed")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on access, len=%d", c.Len())
	}
}

func TestEntryStaysFreshWithinTTL(t *testing.T) {
	now := time.Now()
	c := New(time.Second, 10)
	c.now = func() time.Time { return now }
	c.Put(1, dg(1))

	c.now = func() time.Time { return now.Add(500 * time.Millisecond) }
	if _, hit := c.Get(1); !hit {
		t.Fatal("expected hit within ttl window")
	}
}

func TestBoundedSizeEvictsOldest(t *testing.T) {
	now := time.Now()
	c := New(time.Minute, 3)
	c.now = func() time.Time { return now }

	c.Put(1, dg(1))
	now = now.Add(time.Millisecond)
	c.Put(2, dg(2))
	now = now.Add(time.Millisecond)
	c.Put(3, dg(3))
	now = now.Add(time.Millisecond)
	c.Put(4, dg(4))

	if c.Len() > 3 {
		t.Fatalf("len = %d, want <= 3", c.Len())
	}
	if _, hit := c.Get(1); hit {
		t.Fatal("expected oldest entry (id 1) to have been evicted")
	}
	if _, hit := c.Get(4); !hit {
		t.Fatal("expected newest entry (id 4) to still be present")
	}
}

func TestPutPurgesExpiredBeforeEvictingFresh(t *testing.T) {
	now := time.Now()
	c := New(10*time.Millisecond, 2)
	c.now = func() time.Time { return now }

	c.Put(1, dg(1)) // will expire
	now = now.Add(20 * time.Millisecond)
	c.Put(2, dg(2)) // fresh, id 1 now expired

	// At capacity (2), but id 1 is expired: Put(3) should purge id 1
	// first rather than evicting the still-fresh id 2.
	c.Put(3, dg(3))

	if _, hit := c.Get(2); !hit {
		t.Fatal("fresh entry 2 should have survived eviction of expired entry 1")
	}
	if _, hit := c.Get(3); !hit {
		t.Fatal("expected newly inserted entry 3 to be present")
	}
	if c.Len() > 2 {
		t.Fatalf("len = %d, want <= 2", c.Len())
	}
}

func TestPutOverwritesWithoutGrowing(t *testing.T) {
	c := New(time.Minute, 2)
	c.Put(1, dg(1))
	c.Put(1, dg(1))
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}

func TestBoundInvariantAfterManyPuts(t *testing.T) {
	c := New(time.Minute, 5)
	for i := uint32(0); i < 100; i++ {
		c.Put(i, dg(i))
		if c.Len() > 5 {
			t.Fatalf("len = %d exceeded max_size after put %d", c.Len(), i)
		}
	}
}
