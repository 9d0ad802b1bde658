package state

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/filegrind/inpage-go/events"
)

type emitted struct {
	event string
	args  []interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(event string, args ...interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event, args})
	return true
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// TEST1201: The same snapshot applied twice emits one change pair, then nothing
func TestConfigSyncIdempotent(t *testing.T) {
	st := New()
	rec := &recorder{}
	cs := NewConfigSync(st, rec, nil)

	snap := Snapshot{ChainID: strPtr("0x1"), NetworkVersion: strPtr("1")}
	cs.Apply(snap)
	cs.Apply(snap)

	assert.Equal(t, 1, rec.count(events.ChainChanged))
	assert.Equal(t, 1, rec.count(events.ChainIDChanged))
	assert.Equal(t, 1, rec.count(events.NetworkChanged))
	require.Len(t, rec.events, 3)
	assert.Equal(t, []interface{}{"0x1"}, rec.events[0].args)
	assert.Equal(t, events.ChainIDChanged, rec.events[1].event, "alias follows the primary event")

	chainID, ok := st.ChainID()
	assert.True(t, ok)
	assert.Equal(t, "0x1", chainID)
}

// TEST1202: Sparse snapshots touch only present fields and unlock changes are silent
func TestConfigSyncSparse(t *testing.T) {
	st := New()
	rec := &recorder{}
	cs := NewConfigSync(st, rec, nil)

	cs.Apply(Snapshot{ChainID: strPtr("0x1"), NetworkVersion: strPtr("1")})
	cs.Apply(Snapshot{NetworkVersion: strPtr("5")})
	cs.Apply(Snapshot{IsUnlocked: boolPtr(true)})

	assert.Equal(t, 1, rec.count(events.ChainChanged))
	assert.Equal(t, 2, rec.count(events.NetworkChanged))
	assert.Len(t, rec.events, 4)
	assert.True(t, st.IsUnlocked())
	chainID, _ := st.ChainID()
	assert.Equal(t, "0x1", chainID)
	network, _ := st.NetworkVersion()
	assert.Equal(t, "5", network)
}

// TEST1203: Raw snapshots are validated; invalid ones are logged and ignored
func TestConfigSyncApplyRaw(t *testing.T) {
	st := New()
	rec := &recorder{}
	core, logs := observer.New(zapcore.WarnLevel)
	cs := NewConfigSync(st, rec, zap.New(core))

	require.NoError(t, cs.ApplyRaw([]byte(`{"chainId":"0x5","networkVersion":null,"isUnlocked":false,"extra":1}`)))
	assert.Equal(t, 1, rec.count(events.ChainChanged))
	assert.Equal(t, 0, rec.count(events.NetworkChanged), "null is treated as absent")

	assert.Error(t, cs.ApplyRaw([]byte(`{"chainId":5}`)))
	assert.Error(t, cs.ApplyRaw([]byte(`"text"`)))
	assert.Equal(t, 2, logs.FilterMessage("ignoring invalid config snapshot").Len())
	assert.Len(t, rec.events, 2)
}

type sliceSource struct {
	payloads [][]byte
	end      error
}

func (s *sliceSource) Recv(ctx context.Context) ([]byte, error) {
	if len(s.payloads) == 0 {
		return nil, s.end
	}
	p := s.payloads[0]
	s.payloads = s.payloads[1:]
	return p, nil
}

// TEST1204: Run applies every snapshot and returns the end cause
func TestConfigSyncRun(t *testing.T) {
	st := New()
	rec := &recorder{}
	src := &sliceSource{
		payloads: [][]byte{
			[]byte(`{"chainId":"0x1"}`),
			[]byte(`not json`),
			[]byte(`{"chainId":"0x2"}`),
		},
		end: io.EOF,
	}

	err := NewConfigSync(st, rec, nil).Run(context.Background(), src)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, rec.count(events.ChainChanged))
	chainID, _ := st.ChainID()
	assert.Equal(t, "0x2", chainID)
}

// TEST1205: Repeated identical accounts emit once; a different list emits again and moves the selection
func TestReconcilerDedup(t *testing.T) {
	st := New()
	rec := &recorder{}
	r := NewReconciler(st, rec, nil)

	_, ok := st.SelectedAddress()
	assert.False(t, ok)

	assert.True(t, r.Reconcile([]string{"0xA"}))
	addr, ok := st.SelectedAddress()
	assert.True(t, ok)
	assert.Equal(t, "0xA", addr)

	assert.False(t, r.Reconcile([]string{"0xA"}))
	assert.Equal(t, 1, rec.count(events.AccountsChanged))

	assert.True(t, r.Reconcile([]string{"0xB"}))
	assert.Equal(t, 2, rec.count(events.AccountsChanged))
	addr, _ = st.SelectedAddress()
	assert.Equal(t, "0xB", addr)
}

// TEST1206: Account equality is order-sensitive and emitted lists are independent copies
func TestReconcilerOrderAndCopy(t *testing.T) {
	st := New()
	rec := &recorder{}
	r := NewReconciler(st, rec, nil)

	input := []string{"0xA", "0xB"}
	r.Reconcile(input)
	assert.True(t, r.Reconcile([]string{"0xB", "0xA"}))

	input[0] = "0xZ"
	emittedList := rec.events[1].args[0].([]string)
	emittedList[1] = "0xY"
	assert.Equal(t, []string{"0xB", "0xA"}, st.Accounts())
	assert.Equal(t, []string{"0xA", "0xB"}, rec.events[0].args[0])
}

// TEST1207: Non-list payloads reconcile to empty with a logged fault
func TestReconcileRaw(t *testing.T) {
	st := New()
	rec := &recorder{}
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewReconciler(st, rec, zap.New(core))

	assert.True(t, r.ReconcileRaw(json.RawMessage(`["0xA"]`)))
	assert.True(t, r.ReconcileRaw(json.RawMessage(`{"not":"a list"}`)))
	assert.Empty(t, st.Accounts())
	_, ok := st.SelectedAddress()
	assert.False(t, ok)
	assert.Equal(t, 1, logs.Len())

	assert.False(t, r.ReconcileRaw(json.RawMessage(`[]`)))
	assert.Equal(t, 1, logs.Len(), "an empty list is not a fault")
}

// TEST1208: Connected flag transitions report whether they changed anything
func TestConnectedTransitions(t *testing.T) {
	st := New()
	assert.False(t, st.IsConnected())
	assert.True(t, st.MarkConnected())
	assert.False(t, st.MarkConnected())
	assert.True(t, st.MarkDisconnected())
	assert.False(t, st.MarkDisconnected())
}
