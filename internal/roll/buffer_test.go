package roll

import (
	"sync"
	"testing"
	"time"

	"github.com/xtding233/loot-roller/internal/catalog"
)

func TestBufferPoolReuse(t *testing.T) {
	p := NewBufferPool(1, 3)
	a := p.Acquire()
	a.Slots[0] = Slot{Item: catalog.Item{Name: "x"}, Authoritative: true}
	a.Winner = 0
	p.Release(a)
	if p.Free() != 1 {
		t.Fatalf("free=%d", p.Free())
	}
	b := p.Acquire()
	if b != a {
		t.Fatalf("released buffer must be reused")
	}
	if b.Winner != -1 || b.Slots[0].Name != "" || b.Slots[0].Authoritative {
		t.Fatalf("reused buffer must be cleared")
	}

	p.Release(b)
	p.Release(newResultSet(3)) // over capacity
	p.Release(newResultSet(2)) // wrong size
	if p.Free() != 1 {
		t.Fatalf("free=%d, want 1", p.Free())
	}
}

func TestBufferPoolReleaseAfter(t *testing.T) {
	p := NewBufferPool(2, 3)
	rs := p.Acquire()
	p.ReleaseAfter(rs, 20*time.Millisecond)
	if p.Free() != 0 || p.Pending() != 1 {
		t.Fatalf("buffer must not be reusable during the grace delay")
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Free() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("buffer never returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if p.Pending() != 0 {
		t.Fatalf("pending=%d", p.Pending())
	}
}

func TestBufferPoolConcurrentNoSharing(t *testing.T) {
	p := NewBufferPool(8, 4)
	var mu sync.Mutex
	inUse := map[*ResultSet]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				rs := p.Acquire()
				mu.Lock()
				if inUse[rs] {
					mu.Unlock()
					t.Errorf("buffer handed to two rolls")
					return
				}
				inUse[rs] = true
				mu.Unlock()

				mu.Lock()
				delete(inUse, rs)
				mu.Unlock()
				p.Release(rs)
			}
		}()
	}
	wg.Wait()
}
