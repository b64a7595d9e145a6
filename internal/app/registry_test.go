package app

import (
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	user := &domain.User{DisplayName: "alice"}
	sess := core.NewMemberSession(user, &fakeConn{})

	cancelled := false
	r.Bind("a", "main", user, sess, func() { cancelled = true })

	if !r.Contains("a") || r.Count() != 1 {
		t.Fatal("bound session not visible")
	}
	if name, ok := r.DisplayName("a"); !ok || name != "alice" {
		t.Fatalf("display name = %q, %v", name, ok)
	}
	if roomID, ok := r.RoomOf("a"); !ok || roomID != "main" {
		t.Fatalf("room = %q, %v", roomID, ok)
	}

	if !r.Cancel("a") {
		t.Fatal("cancel on bound session failed")
	}
	if !cancelled {
		t.Fatal("cancel hook not invoked")
	}

	r.Unbind("a")
	if r.Contains("a") || r.Count() != 0 {
		t.Fatal("unbound session still visible")
	}
	if _, ok := r.DisplayName("a"); ok {
		t.Fatal("display name resolved after unbind")
	}
	if r.Cancel("a") {
		t.Fatal("cancel on unknown session reported success")
	}
}

func TestRoomManagerReusesLiveRooms(t *testing.T) {
	rm := NewRoomManager()

	r1 := rm.GetOrCreate("main")
	r2 := rm.GetOrCreate("main")
	if r1 != r2 {
		t.Fatal("same id produced distinct rooms")
	}
	rm.GetOrCreate("side")
	if got := len(rm.List()); got != 2 {
		t.Fatalf("rooms = %d, want 2", got)
	}

	// The listing carries the membership roster for the rooms API.
	r1.AddMember("a", core.NewMemberSession(&domain.User{DisplayName: "alice"}, &fakeConn{}))
	for _, info := range rm.List() {
		if info.ID != "main" {
			continue
		}
		if info.MemberCount != 1 || len(info.Members) != 1 {
			t.Fatalf("main info = %+v", info)
		}
		if info.Members[0].SessionID != "a" || info.Members[0].DisplayName != "alice" {
			t.Fatalf("main roster = %+v", info.Members)
		}
	}

	rm.StopRoom("main")
	if got := len(rm.List()); got != 1 {
		t.Fatalf("rooms after stop = %d, want 1", got)
	}
	// A stopped id starts over with a fresh room.
	r3 := rm.GetOrCreate("main")
	if r3 == r1 {
		t.Fatal("stopped room resurrected")
	}
}
