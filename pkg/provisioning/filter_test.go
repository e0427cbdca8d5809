package provisioning

import (
	"strings"
	"testing"
	"time"
)

func filterEvent() *LocalEvent {
	return &LocalEvent{
		ID:           "evt-1",
		TenantID:     "tenant-1",
		ResourceType: ResourceUser,
		ResourceID:   "user-42",
		Kind:         EventCreate,
		OccurredAt:   time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
		Snapshot: map[string]any{
			"user": map[string]any{
				"id":    "user-42",
				"email": "ada@example.com",
			},
		},
	}
}

func TestEventFilterCheck(t *testing.T) {
	t.Parallel()
	f, err := NewEventFilter()
	if err != nil {
		t.Fatalf("NewEventFilter: %v", err)
	}

	if err := f.Check(""); err != nil {
		t.Errorf("empty expression rejected: %v", err)
	}
	if err := f.Check(`event.resource_type == "USER"`); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := f.Check(`event.resource_type ==`); err == nil {
		t.Error("truncated expression accepted")
	}
}

func TestEventFilterMatches(t *testing.T) {
	t.Parallel()
	f, err := NewEventFilter()
	if err != nil {
		t.Fatalf("NewEventFilter: %v", err)
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty matches everything", "", true},
		{"resource type match", `event.resource_type == "USER"`, true},
		{"resource type mismatch", `event.resource_type == "GROUP"`, false},
		{"kind match", `event.kind == "CREATE"`, true},
		{"tenant match", `event.tenant_id == "tenant-1"`, true},
		{"snapshot field", `event.snapshot.user.email == "ada@example.com"`, true},
		{"compound", `event.resource_type == "USER" && event.kind != "DELETE"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Matches(tt.expr, filterEvent())
			if err != nil {
				t.Fatalf("Matches(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Matches(%q) = %t, want %t", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEventFilterNonBooleanExpression(t *testing.T) {
	t.Parallel()
	f, err := NewEventFilter()
	if err != nil {
		t.Fatalf("NewEventFilter: %v", err)
	}

	_, err = f.Matches(`event.id`, filterEvent())
	if err == nil || !strings.Contains(err.Error(), "boolean") {
		t.Errorf("string-valued expression err = %v, want boolean complaint", err)
	}
}

func TestEventFilterEvalError(t *testing.T) {
	t.Parallel()
	f, err := NewEventFilter()
	if err != nil {
		t.Fatalf("NewEventFilter: %v", err)
	}

	// Compiles (event is dyn) but the key is absent at eval time.
	_, err = f.Matches(`event.snapshot.user.department == "eng"`, filterEvent())
	if err == nil {
		t.Error("missing snapshot key did not surface an eval error")
	}
}

func TestEventFilterCachesPrograms(t *testing.T) {
	t.Parallel()
	f, err := NewEventFilter()
	if err != nil {
		t.Fatalf("NewEventFilter: %v", err)
	}

	expr := `event.resource_type == "USER"`
	for i := 0; i < 3; i++ {
		if _, err := f.Matches(expr, filterEvent()); err != nil {
			t.Fatalf("Matches: %v", err)
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.prgCache) != 1 {
		t.Errorf("program cache holds %d entries, want 1", len(f.prgCache))
	}
}
