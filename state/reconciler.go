package state

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/events"
)

// Reconciler replaces the cached account list when a new one differs and
// keeps the selected address pointing at its first entry.
type Reconciler struct {
	state *State
	pub   Publisher
	log   *zap.Logger
}

// NewReconciler creates a Reconciler writing to st and emitting on pub.
func NewReconciler(st *State, pub Publisher, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{state: st, pub: pub, log: log}
}

// Reconcile applies accounts and reports whether AccountsChanged was emitted.
// Equality is element-wise and order-sensitive.
func (r *Reconciler) Reconcile(accounts []string) bool {
	next := make([]string, len(accounts))
	copy(next, accounts)

	r.state.mu.Lock()
	changed := !equalAccounts(r.state.accounts, next)
	if changed {
		r.state.accounts = next
	}
	selected := ""
	if len(next) > 0 {
		selected = next[0]
	}
	if r.state.selected != selected {
		r.state.selected = selected
	}
	r.state.mu.Unlock()

	if changed {
		out := make([]string, len(next))
		copy(out, next)
		r.pub.Emit(events.AccountsChanged, out)
	}
	return changed
}

// ReconcileRaw decodes an account list. Anything that is not an array of
// strings is logged and treated as an empty list.
func (r *Reconciler) ReconcileRaw(raw json.RawMessage) bool {
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil || accounts == nil {
		r.log.Error("accounts payload is not a list", zap.ByteString("payload", raw), zap.Error(err))
		accounts = []string{}
	}
	return r.Reconcile(accounts)
}

func equalAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
