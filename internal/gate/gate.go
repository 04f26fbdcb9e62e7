// Package gate implements the per-destination authorization state machine:
// three concurrent notions of "open" (a sentinel default, a set of guarded
// assertions keyed by a released handle, and a single deadline-bounded
// assertion) composed with an optional expiring filename hint.
package gate

import (
	"sync"
	"time"
)

// State reports the current admission state of a Gate.
//
//	Open == false            -> gate is closed
//	Open == true, Hint == "", HasHint == false -> open, no hint
//	Open == true, HasHint == true               -> open with Hint
type State struct {
	Open    bool
	HasHint bool
	Hint    string
}

// ExtendedState additionally reports the residual duration until the next
// state-affecting deadline, when the gate is held open only by a
// timed/hint expiry (zero if the gate is held open unconditionally by
// sentinel or a guarded assertion, or if the gate is closed).
type ExtendedState struct {
	State
	ResidualValid bool
	Residual      time.Duration
}

type nameHint struct {
	text         string
	expiresAt    time.Time
	dependsOn    uint64
	hasDependsOn bool
}

// Gate is a named admission object. The zero value is not usable; construct
// with New. All operations serialize on a single RWMutex; critical sections
// are O(1).
type Gate struct {
	mu sync.RWMutex

	defaultOpen bool
	sentinel    bool
	guarded     map[uint64]struct{}
	nextID      uint64
	expiring    time.Time
	hasExpiring bool
	hint        *nameHint

	timedAssertionLifetime time.Duration
	nameHintLifetime       time.Duration

	now func() time.Time
}

// Config carries the construction-time parameters for a Gate.
type Config struct {
	DefaultOpen            bool
	TimedAssertionLifetime time.Duration
	NameHintLifetime       time.Duration
}

// New creates a Gate from configuration. sentinel starts at DefaultOpen.
func New(cfg Config) *Gate {
	return &Gate{
		defaultOpen:            cfg.DefaultOpen,
		sentinel:               cfg.DefaultOpen,
		guarded:                make(map[uint64]struct{}),
		timedAssertionLifetime: cfg.TimedAssertionLifetime,
		nameHintLifetime:       cfg.NameHintLifetime,
		now:                    time.Now,
	}
}

// Guard is the handle returned by AssertOpenGuarded[WithHint]. Release must
// run on every exit path (typically via defer) — it is the Go realization
// of the guarded assertion's scoped lifetime.
type Guard struct {
	g        *Gate
	id       uint64
	released bool
}

// Release removes this guarded assertion from the gate, and clears the
// active name hint if it depended on this specific assertion. Calling
// Release more than once, or after AssertClosed has already invalidated the
// assertion, is a safe no-op.
func (h *Guard) Release() {
	if h.released {
		return
	}
	h.released = true
	h.g.releaseGuarded(h.id)
}

func (g *Gate) releaseGuarded(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.guarded, id)
	if g.hint != nil && g.hint.hasDependsOn && g.hint.dependsOn == id {
		g.hint = nil
	}
}

// AssertClosed forces the gate closed: sentinel is set false, the guarded
// set and the timed assertion are cleared, and the name hint is cleared.
// Guard handles already issued become ineffective; their later Release is a
// no-op (the id is already absent from guarded).
func (g *Gate) AssertClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sentinel = false
	g.guarded = make(map[uint64]struct{})
	g.hasExpiring = false
	g.hint = nil
}

// AssertOpenGuarded opens the gate via a new guarded assertion and returns
// its handle. Equivalent to AssertOpenGuardedWithHint with no hint.
func (g *Gate) AssertOpenGuarded() *Guard {
	return g.AssertOpenGuardedWithHint("")
}

// AssertOpenGuardedWithHint opens the gate via a new guarded assertion,
// optionally replacing the active name hint. Per the open question
// preserved from the original implementation, sentinel is reset to
// defaultOpen on every open-assertion call, regardless of any prior
// AssertClosed.
func (g *Gate) AssertOpenGuardedWithHint(hint string) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sentinel = g.defaultOpen

	id := g.nextID
	g.nextID++
	g.guarded[id] = struct{}{}

	if hint != "" {
		g.hint = &nameHint{
			text:         hint,
			expiresAt:    g.now().Add(g.nameHintLifetime),
			dependsOn:    id,
			hasDependsOn: true,
		}
	}

	return &Guard{g: g, id: id}
}

// AssertOpenTimed opens the gate for timedAssertionLifetime from now,
// overwriting any previous timed assertion. Equivalent to
// AssertOpenTimedWithHint with no hint.
func (g *Gate) AssertOpenTimed() {
	g.AssertOpenTimedWithHint("")
}

// AssertOpenTimedWithHint opens the gate for timedAssertionLifetime from
// now, optionally replacing the active name hint. The hint's expiry is
// capped at the timed assertion's own expiry, since a hint for an assertion
// the gate no longer attributes its open-ness to would be misleading.
func (g *Gate) AssertOpenTimedWithHint(hint string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sentinel = g.defaultOpen

	expiry := g.now().Add(g.timedAssertionLifetime)
	g.expiring = expiry
	g.hasExpiring = true

	if hint != "" {
		hintExpiry := g.now().Add(g.nameHintLifetime)
		if hintExpiry.After(expiry) {
			hintExpiry = expiry
		}
		g.hint = &nameHint{
			text:      hint,
			expiresAt: hintExpiry,
		}
	}
}

// isOpenLocked reports whether the gate is open, as of now, under the
// caller's held lock.
func (g *Gate) isOpenLocked(now time.Time) bool {
	if g.sentinel {
		return true
	}
	if len(g.guarded) > 0 {
		return true
	}
	if g.hasExpiring && g.expiring.After(now) {
		return true
	}
	return false
}

// CurrentState reports whether the gate is open and, if so, the active name
// hint (if any and if not expired).
func (g *Gate) CurrentState() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()
	st := State{Open: g.isOpenLocked(now)}
	if !st.Open {
		return st
	}
	if g.hint != nil && g.hint.expiresAt.After(now) {
		st.HasHint = true
		st.Hint = g.hint.text
	}
	return st
}

// CurrentStateExtended additionally reports the residual duration until the
// next state-affecting deadline, valid only when the gate is held open
// exclusively by the timed assertion and/or the name hint (not by sentinel
// or a guarded assertion, both of which have no deadline).
func (g *Gate) CurrentStateExtended() ExtendedState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()
	ext := ExtendedState{State: State{Open: g.isOpenLocked(now)}}
	if !ext.Open {
		return ext
	}
	if g.hint != nil && g.hint.expiresAt.After(now) {
		ext.HasHint = true
		ext.Hint = g.hint.text
	}

	if g.sentinel || len(g.guarded) > 0 {
		return ext
	}
	if !g.hasExpiring {
		return ext
	}

	deadline := g.expiring
	if ext.HasHint && g.hint.expiresAt.Before(deadline) {
		deadline = g.hint.expiresAt
	}
	ext.ResidualValid = true
	ext.Residual = deadline.Sub(now)
	return ext
}

// MimeResolver is the subset of internal/mimetypes.Table that TryWriteFile
// needs, kept as an interface here to avoid gate depending on the mimetypes
// package concretely.
type MimeResolver interface {
	Resolve(filename string) (suffix, contentType string, ok bool)
}

// FileWriter is the subset of internal/destination.Destination that
// TryWriteFile needs.
type FileWriter interface {
	WriteFile(nameHint, suffix, contentType string) (Writer, error)
}

// Writer is the narrow interface TryWriteFile hands back to callers — it is
// satisfied by *internal/chunker2.Writer.
type Writer interface{}

// TryWriteFile admits or refuses a file open. It returns nil, nil if the
// gate is closed, or if mime has no entry for origFilename; otherwise it
// asks dest to construct a Writer using the current name hint (if any).
func (g *Gate) TryWriteFile(origFilename string, mime MimeResolver, dest FileWriter) (Writer, error) {
	st := g.CurrentState()
	if !st.Open {
		return nil, nil
	}
	suffix, contentType, ok := mime.Resolve(origFilename)
	if !ok {
		return nil, nil
	}
	hint := ""
	if st.HasHint {
		hint = st.Hint
	}
	return dest.WriteFile(hint, suffix, contentType)
}
