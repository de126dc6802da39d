package mailbox

import (
	"errors"
	"slices"
	"testing"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

func TestRouter_RouteAndLookup(t *testing.T) {
	r := NewRouter()

	if err := r.Route("/master/status", MasterStatus); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if err := r.Route("/agents/3/action", Action); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	tests := []struct {
		topic  string
		want   Kind
		wantOK bool
	}{
		{"/master/status", MasterStatus, true},
		{"/agents/3/action", Action, true},
		{"/agents/4/action", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := r.Lookup(tt.topic)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("Lookup(%q) = %v, %v, want %v, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRouter_RouteConflicts(t *testing.T) {
	r := NewRouter()
	_ = r.Route("/agents/index", Index)

	if err := r.Route("/agents/index", Index); err != nil {
		t.Errorf("re-routing to the same kind failed: %v", err)
	}
	if err := r.Route("/agents/index", Start); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("re-routing to another kind = %v, want validation error", err)
	}
	if err := r.Route("", Start); err == nil {
		t.Error("empty topic accepted")
	}
	if err := r.Route("/x", Kind(42)); err == nil {
		t.Error("invalid kind accepted")
	}
}

func TestRouter_RemoveAndTopics(t *testing.T) {
	r := NewRouter()
	_ = r.Route("/master/status", MasterStatus)
	_ = r.Route("/agents/index", Index)
	_ = r.Route("/agents/1/start", Start)

	before := r.Topics()
	r.Remove("/agents/index")
	r.Remove("/never/routed")

	if got, want := r.Topics(), []string{"/agents/1/start", "/master/status"}; !slices.Equal(got, want) {
		t.Errorf("Topics() = %v, want %v", got, want)
	}
	if len(before) != 3 {
		t.Errorf("earlier Topics() snapshot changed: %v", before)
	}
	if _, ok := r.Lookup("/agents/index"); ok {
		t.Error("removed topic still routed")
	}
}
