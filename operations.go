package identity

import (
	"fmt"
	"sync"
)

// Operation names a gateway operation. It is attached to errors, activity
// events and spans.
type Operation string

const (
	OperationSignUp               Operation = "sign_up"
	OperationSignIn               Operation = "sign_in"
	OperationProviderSignIn       Operation = "provider_sign_in"
	OperationSignOut              Operation = "sign_out"
	OperationChangePassword       Operation = "change_password"
	OperationRequestPasswordReset Operation = "request_password_reset"
)

// OperationClass groups operations that may not overlap. Google and
// Facebook popups share ClassProviderPopup.
type OperationClass string

const (
	ClassSignIn         OperationClass = "signIn"
	ClassSignUp         OperationClass = "signUp"
	ClassProviderPopup  OperationClass = "providerPopup"
	ClassPasswordChange OperationClass = "passwordChange"
	ClassPasswordReset  OperationClass = "passwordReset"
)

// OperationState is the per class lifecycle state.
type OperationState string

const (
	StateIdle      OperationState = "idle"
	StatePending   OperationState = "pending"
	StateSucceeded OperationState = "succeeded"
	StateFailed    OperationState = "failed"
)

// OperationListener observes every state transition of an operation class.
// It is called outside the table lock.
type OperationListener func(class OperationClass, from, to OperationState)

type transition struct {
	class    OperationClass
	from, to OperationState
}

// operationTable enforces at most one pending operation per class.
// A second request for a pending class is rejected, never queued.
type operationTable struct {
	mu          sync.Mutex
	states      map[OperationClass]OperationState
	transitions map[OperationState]map[OperationState]struct{}
	listeners   []OperationListener
}

func newOperationTable(listeners ...OperationListener) *operationTable {
	return &operationTable{
		states: map[OperationClass]OperationState{},
		transitions: map[OperationState]map[OperationState]struct{}{
			StateIdle: {
				StatePending: {},
			},
			StatePending: {
				StateSucceeded: {},
				StateFailed:    {},
			},
			StateSucceeded: {
				StateIdle: {},
			},
			StateFailed: {
				StateIdle: {},
			},
		},
		listeners: listeners,
	}
}

func (t *operationTable) state(class OperationClass) OperationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(class)
}

func (t *operationTable) current(class OperationClass) OperationState {
	if s, ok := t.states[class]; ok {
		return s
	}
	return StateIdle
}

// begin moves class to Pending. The returned finish func resolves the
// operation and returns the class to Idle; it is safe to call more than
// once.
func (t *operationTable) begin(class OperationClass) (finish func(err error), err error) {
	t.mu.Lock()
	from := t.current(class)
	if from == StatePending {
		t.mu.Unlock()
		return nil, NewError(
			KindOperationAlreadyPending,
			fmt.Sprintf("%s operation already pending", class),
			nil,
			map[string]any{"class": string(class)},
		)
	}
	changes := []transition{t.move(class, StatePending)}
	t.mu.Unlock()
	t.notify(changes)

	var once sync.Once
	return func(opErr error) {
		once.Do(func() {
			outcome := StateSucceeded
			if opErr != nil {
				outcome = StateFailed
			}
			t.mu.Lock()
			changes := []transition{
				t.move(class, outcome),
				t.move(class, StateIdle),
			}
			t.mu.Unlock()
			t.notify(changes)
		})
	}, nil
}

func (t *operationTable) move(class OperationClass, to OperationState) transition {
	from := t.current(class)
	if allowed, ok := t.transitions[from]; ok {
		if _, ok := allowed[to]; !ok {
			panic(fmt.Sprintf("identity: invalid operation transition %s: %s -> %s", class, from, to))
		}
	}
	t.states[class] = to
	return transition{class: class, from: from, to: to}
}

func (t *operationTable) notify(changes []transition) {
	for _, l := range t.listeners {
		if l == nil {
			continue
		}
		for _, c := range changes {
			l(c.class, c.from, c.to)
		}
	}
}
