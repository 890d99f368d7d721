package browser

import (
	"context"
	"fmt"

	"github.com/and161185/portal-keeper/internal/connector"
)

// State is a step of one sync attempt.
type State int

const (
	StateSessionResume State = iota
	StateFreshLogin
	StateFormDetection
	StateSubmit
	StateMFACheck
	StatePostLoginVerify
	StateSectionScrape
	StateAggregate
	StateDone
	StateFailed
	StateMFARequired
)

var stateNames = [...]string{
	"SessionResume", "FreshLogin", "FormDetection", "Submit", "MFACheck",
	"PostLoginVerify", "SectionScrape", "Aggregate", "Done", "Failed", "MFARequired",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the attempt stops in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateMFARequired
}

// transitions lists every legal edge. FreshLogin has no edge back to
// SessionResume, so a stale cache is tried at most once per attempt.
var transitions = map[State][]State{
	StateSessionResume:   {StateFreshLogin, StateSectionScrape, StateFailed},
	StateFreshLogin:      {StateFormDetection, StateFailed},
	StateFormDetection:   {StateSubmit, StateFailed},
	StateSubmit:          {StateMFACheck, StateFailed},
	StateMFACheck:        {StateMFARequired, StatePostLoginVerify, StateFailed},
	StatePostLoginVerify: {StateSectionScrape, StateFailed},
	StateSectionScrape:   {StateAggregate},
	StateAggregate:       {StateDone},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// handler runs one state and names the next.
type handler func(ctx context.Context) (State, error)

// machine interprets the transition table over a set of handlers.
type machine struct {
	handlers map[State]handler
	trace    []State
}

// run drives from start until a terminal state. A handler error moves the
// machine to Failed and is returned.
func (m *machine) run(ctx context.Context, start State) (State, error) {
	cur := start
	m.trace = append(m.trace[:0], cur)
	for !cur.Terminal() {
		h, ok := m.handlers[cur]
		if !ok {
			return StateFailed, fmt.Errorf("%w: no handler for %s", connector.ErrIllegalTransition, cur)
		}
		next, err := h(ctx)
		if err != nil {
			next = StateFailed
		}
		if !CanTransition(cur, next) {
			return StateFailed, fmt.Errorf("%w: %s -> %s", connector.ErrIllegalTransition, cur, next)
		}
		m.trace = append(m.trace, next)
		cur = next
		if err != nil {
			return cur, err
		}
	}
	return cur, nil
}
