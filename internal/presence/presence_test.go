package presence

import (
	"reflect"
	"testing"
)

func TestTracker_JoinLeave(t *testing.T) {
	tr := NewTracker()

	tr.Join("conv1", "alice")
	tr.Join("conv1", "bob")

	got := tr.Online("conv1")
	want := []string{"alice", "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	tr.Leave("conv1", "alice")
	got = tr.Online("conv1")
	want = []string{"bob"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTracker_JoinIsIdempotent(t *testing.T) {
	tr := NewTracker()

	tr.Join("conv1", "alice")
	tr.Join("conv1", "alice")

	got := tr.Online("conv1")
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("expected [alice], got %v", got)
	}
}

func TestTracker_LeaveWithoutJoin(t *testing.T) {
	tr := NewTracker()

	// Must not panic or error for an unknown conversation or member.
	tr.Leave("conv1", "alice")

	tr.Join("conv1", "alice")
	tr.Leave("conv1", "bob")

	got := tr.Online("conv1")
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("expected [alice], got %v", got)
	}

	// Second leave is a no-op.
	tr.Leave("conv1", "alice")
	tr.Leave("conv1", "alice")
	if got := tr.Online("conv1"); len(got) != 0 {
		t.Errorf("expected empty set, got %v", got)
	}
}

func TestTracker_ConversationsAreIndependent(t *testing.T) {
	tr := NewTracker()

	tr.Join("conv1", "alice")
	tr.Join("conv2", "alice")
	tr.Leave("conv1", "alice")

	if got := tr.Online("conv1"); len(got) != 0 {
		t.Errorf("expected conv1 empty, got %v", got)
	}
	if got := tr.Online("conv2"); len(got) != 1 {
		t.Errorf("expected alice still in conv2, got %v", got)
	}
}
