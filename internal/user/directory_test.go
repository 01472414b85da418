package user

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDirectoryClaimAndLookup(t *testing.T) {
	d := NewDirectory()
	if err := d.Claim("alice", "conn1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	name, ok := d.Lookup("conn1")
	if !ok || name != "alice" {
		t.Errorf("expected lookup alice, got %q (ok=%v)", name, ok)
	}
	if !d.Taken("alice") {
		t.Error("expected alice to be taken")
	}
}

func TestDirectoryClaimInvalidFormat(t *testing.T) {
	d := NewDirectory()
	cases := []string{
		"",
		"a",                     // too short
		strings.Repeat("a", 21), // too long
		"has space",
		"exclaim!",
		"émile",
	}
	for _, name := range cases {
		if err := d.Claim(name, "conn1"); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("Claim(%q) = %v, want ErrInvalidUsername", name, err)
		}
	}
}

func TestDirectoryClaimValidFormats(t *testing.T) {
	d := NewDirectory()
	for i, name := range []string{"ab", "Alice_99", "x-y-z", strings.Repeat("a", 20)} {
		if err := d.Claim(name, string(rune('a'+i))); err != nil {
			t.Errorf("Claim(%q) failed: %v", name, err)
		}
	}
}

func TestDirectoryClaimTaken(t *testing.T) {
	d := NewDirectory()
	if err := d.Claim("alice", "conn1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := d.Claim("alice", "conn2"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestDirectoryNamesAreCaseSensitive(t *testing.T) {
	d := NewDirectory()
	if err := d.Claim("alice", "conn1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := d.Claim("Alice", "conn2"); err != nil {
		t.Fatalf("expected Alice to be distinct from alice, got %v", err)
	}
}

func TestDirectoryClaimIsSetOnce(t *testing.T) {
	d := NewDirectory()
	if err := d.Claim("alice", "conn1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := d.Claim("alice2", "conn1"); !errors.Is(err, ErrUsernameAlreadySet) {
		t.Fatalf("expected ErrUsernameAlreadySet, got %v", err)
	}
}

func TestDirectoryReleaseFreesNameForReuse(t *testing.T) {
	d := NewDirectory()
	if err := d.Claim("alice", "conn1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	d.Release("conn1")
	if d.Taken("alice") {
		t.Error("expected alice to be free after release")
	}
	if err := d.Claim("alice", "conn2"); err != nil {
		t.Errorf("expected alice reusable after release, got %v", err)
	}

	// Idempotent: releasing again must not disturb the new holder.
	d.Release("conn1")
	if !d.Taken("alice") {
		t.Error("repeat release of conn1 must not free conn2's name")
	}
}

func TestDirectoryConcurrentClaimsGrantOneWinner(t *testing.T) {
	d := NewDirectory()
	const n = 32

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := d.Claim("alice", "conn"+string(rune('a'+i)))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrUsernameTaken):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins.Load())
	}
	if losses.Load() != n-1 {
		t.Errorf("expected %d losers, got %d", n-1, losses.Load())
	}
}
