package presence

import (
	"context"
	"os"
	"testing"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
)

type removableStore interface {
	port.PresenceStore
	Remove(ctx context.Context, userID domain.UserID) error
}

func exercise(t *testing.T, store removableStore) {
	t.Helper()
	ctx := context.Background()

	st, err := store.State(ctx, "unknown")
	if err != nil || st != domain.ConnDisconnected {
		t.Errorf("State(unknown) = %q, %v; want disconnected", st, err)
	}

	steps := []domain.ConnState{domain.ConnConnected, domain.ConnDisconnected, domain.ConnConnected}
	for _, want := range steps {
		if err := store.SetState(ctx, "u1", want); err != nil {
			t.Fatalf("SetState() error = %v", err)
		}
		if got, _ := store.State(ctx, "u1"); got != want {
			t.Errorf("State() = %q, want %q", got, want)
		}
	}

	if err := store.SetState(ctx, "u2", domain.ConnConnected); err != nil {
		t.Fatalf("SetState(u2) error = %v", err)
	}
	if err := store.Remove(ctx, "u1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got, _ := store.State(ctx, "u1"); got != domain.ConnDisconnected {
		t.Errorf("State(u1) after Remove = %q, want disconnected", got)
	}
	if got, _ := store.State(ctx, "u2"); got != domain.ConnConnected {
		t.Errorf("Remove(u1) touched u2: State(u2) = %q, want connected", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("LOOPYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LOOPYNC_TEST_REDIS_URL not set")
	}
	rdb, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer rdb.Close()

	store := NewRedisStore(rdb, "loopync-test:")
	cleanup := func() {
		for _, id := range []domain.UserID{"unknown", "u1", "u2"} {
			store.Remove(context.Background(), id)
		}
	}
	cleanup()
	defer cleanup()
	exercise(t, store)
}
