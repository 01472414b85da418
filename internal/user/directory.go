package user

import (
	"errors"
	"regexp"
	"sync"
)

// Username directory errors.
var (
	ErrInvalidUsername    = errors.New("username must be 2-20 characters: letters, numbers, underscores, hyphens")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUsernameAlreadySet = errors.New("username already set for this connection")
)

// usernamePattern matches valid display names. Case-sensitive; "Alice"
// and "alice" are distinct names.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,20}$`)

// ValidUsername reports whether name satisfies the format rules.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Directory enforces display-name uniqueness across live connections.
// The check-and-bind in Claim happens under one mutex hold, so two
// connections racing for the same name resolve to exactly one winner.
type Directory struct {
	mu     sync.Mutex
	byName map[string]string // name -> connection ID
	byConn map[string]string // connection ID -> name
}

// NewDirectory creates an empty username directory.
func NewDirectory() *Directory {
	return &Directory{
		byName: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Claim atomically binds name to the connection. A connection may claim
// exactly once; renames are not supported.
func (d *Directory) Claim(name, connID string) error {
	if !ValidUsername(name) {
		return ErrInvalidUsername
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, bound := d.byConn[connID]; bound {
		return ErrUsernameAlreadySet
	}
	if holder, taken := d.byName[name]; taken && holder != connID {
		return ErrUsernameTaken
	}
	d.byName[name] = connID
	d.byConn[connID] = name
	return nil
}

// Release frees the connection's name for immediate reuse. Idempotent.
func (d *Directory) Release(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.byConn[connID]
	if !ok {
		return
	}
	delete(d.byConn, connID)
	delete(d.byName, name)
}

// Lookup returns the name bound to the connection, if any.
func (d *Directory) Lookup(connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.byConn[connID]
	return name, ok
}

// Taken reports whether name is currently held by a live connection.
func (d *Directory) Taken(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byName[name]
	return ok
}
