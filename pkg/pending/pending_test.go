package pending

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tabatskyi/multi-share/pkg/rooms"
)

func TestArmThenFulfil(t *testing.T) {
	tbl := NewTable()

	ch := tbl.Arm("c1")
	if !tbl.Armed("c1") {
		t.Fatal("slot not armed after Arm")
	}

	if !tbl.Fulfil("c1", "y") {
		t.Fatal("Fulfil returned false for an armed slot")
	}
	select {
	case v := <-ch:
		if v != "y" {
			t.Errorf("received %q, want %q", v, "y")
		}
	default:
		t.Fatal("no value buffered after Fulfil")
	}

	if tbl.Armed("c1") {
		t.Error("slot still armed after Fulfil")
	}
}

func TestFulfilWithoutArm(t *testing.T) {
	tbl := NewTable()

	// Late responses arrive after the waiter gave up; they are dropped.
	if tbl.Fulfil("ghost", "n") {
		t.Error("Fulfil returned true with nothing armed")
	}
}

func TestDisarmDropsSlot(t *testing.T) {
	tbl := NewTable()

	ch := tbl.Arm("c1")
	tbl.Disarm("c1")

	if tbl.Armed("c1") {
		t.Error("slot still armed after Disarm")
	}
	if tbl.Fulfil("c1", "y") {
		t.Error("Fulfil succeeded on a disarmed slot")
	}
	select {
	case v := <-ch:
		t.Errorf("disarmed channel delivered %q", v)
	default:
	}
}

func TestRearmReplacesSlot(t *testing.T) {
	tbl := NewTable()

	old := tbl.Arm("c1")
	fresh := tbl.Arm("c1")
	tbl.Fulfil("c1", "y")

	select {
	case v := <-fresh:
		if v != "y" {
			t.Errorf("fresh slot received %q, want %q", v, "y")
		}
	default:
		t.Fatal("fresh slot received nothing")
	}
	select {
	case v := <-old:
		t.Errorf("abandoned slot received %q", v)
	default:
	}
}

func TestDisconnectUnblocksWaiter(t *testing.T) {
	tbl := NewTable()
	ch := tbl.Arm("c1")

	done := make(chan string, 1)
	go func() {
		select {
		case v := <-ch:
			done <- v
		case <-time.After(2 * time.Second):
			done <- "timeout"
		}
	}()

	tbl.Disconnect("c1")

	if v := <-done; v != Disconnected {
		t.Errorf("waiter received %q, want %q", v, Disconnected)
	}
}

func TestDisconnectWithoutWaiter(t *testing.T) {
	tbl := NewTable()
	// Teardown of a client nobody is waiting on must be a no-op.
	tbl.Disconnect("c1")
	if tbl.Armed("c1") {
		t.Error("Disconnect armed a slot")
	}
}

func TestConcurrentArmFulfil(t *testing.T) {
	tbl := NewTable()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := rooms.ClientID(fmt.Sprintf("client-%d", n))
			for j := 0; j < 200; j++ {
				ch := tbl.Arm(c)
				go tbl.Fulfil(c, "y")
				select {
				case <-ch:
				case <-time.After(5 * time.Second):
					t.Errorf("client %s: fulfilment never arrived", c)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
