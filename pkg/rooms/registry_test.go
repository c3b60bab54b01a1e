package rooms

import (
	"fmt"
	"sync"
	"testing"
)

// checkInvariant verifies that RoomOf(c) == r exactly when c ∈ members(r),
// and that no client appears in more than one room.
func checkInvariant(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[ClientID]int64)
	for room, members := range r.rooms {
		for _, c := range members {
			if prev, dup := seen[c]; dup {
				t.Fatalf("client %s is in rooms %d and %d", c, prev, room)
			}
			seen[c] = room
			if got, ok := r.clients[c]; !ok || got != room {
				t.Fatalf("client %s in members(%d) but RoomOf = %d (known=%v)", c, room, got, ok)
			}
		}
	}
	for c, room := range r.clients {
		if !contains(r.rooms[room], c) {
			t.Fatalf("RoomOf(%s) = %d but client missing from members", c, room)
		}
	}
}

func TestJoinAndLeave(t *testing.T) {
	r := NewRegistry()

	r.Join("a", 7)
	r.Join("b", 7)
	checkInvariant(t, r)

	if got := r.RoomOf("a"); got != 7 {
		t.Errorf("RoomOf(a) = %d, want 7", got)
	}
	if members := r.MembersOf("a"); len(members) != 2 {
		t.Errorf("MembersOf(a) = %v, want 2 members", members)
	}

	r.Leave("a")
	checkInvariant(t, r)
	if members := r.MembersOf("b"); len(members) != 1 || members[0] != "b" {
		t.Errorf("MembersOf(b) after leave = %v, want [b]", members)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Join("a", 3)
	r.Join("a", 3)
	checkInvariant(t, r)

	if members := r.MembersOf("a"); len(members) != 1 {
		t.Errorf("MembersOf(a) = %v, want exactly one entry", members)
	}
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	r := NewRegistry()

	r.Join("a", 1)
	r.Join("b", 1)
	r.Join("a", 2)
	checkInvariant(t, r)

	if got := r.RoomOf("a"); got != 2 {
		t.Errorf("RoomOf(a) = %d, want 2", got)
	}
	for _, m := range r.MembersOf("b") {
		if m == "a" {
			t.Error("client a still listed in room 1 after moving to room 2")
		}
	}
}

func TestDefaultRoomBeforeJoin(t *testing.T) {
	r := NewRegistry()

	if got := r.RoomOf("stranger"); got != DefaultRoom {
		t.Errorf("RoomOf before join = %d, want %d", got, DefaultRoom)
	}
	// Publishing before any join logs into room 0.
	r.Publish("stranger", "hello")
	if msgs := r.Messages(DefaultRoom); len(msgs) != 1 || msgs[0] != "hello" {
		t.Errorf("Messages(0) = %v, want [hello]", msgs)
	}
}

func TestPublishLogsAndSnapshots(t *testing.T) {
	r := NewRegistry()
	r.Join("a", 5)
	r.Join("b", 5)
	r.Join("c", 9)

	members := r.Publish("a", "CLIENT alice: hi")

	if len(members) != 2 {
		t.Errorf("Publish returned %v, want room-5 members only", members)
	}
	if msgs := r.Messages(5); len(msgs) != 1 || msgs[0] != "CLIENT alice: hi" {
		t.Errorf("Messages(5) = %v", msgs)
	}
	if msgs := r.Messages(9); len(msgs) != 0 {
		t.Errorf("Messages(9) = %v, want empty", msgs)
	}

	// The snapshot is a copy; mutating it must not corrupt the registry.
	members[0] = "zzz"
	checkInvariant(t, r)
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := ClientID(fmt.Sprintf("client-%d", n))
			for j := 0; j < 100; j++ {
				r.Join(c, int64(j%4))
				r.Publish(c, "msg")
				r.MembersOf(c)
			}
			r.Leave(c)
		}(i)
	}
	wg.Wait()

	checkInvariant(t, r)
	for room := int64(0); room < 4; room++ {
		if members := r.Messages(room); len(members) == 0 {
			t.Errorf("room %d log is empty after churn", room)
		}
	}
}
