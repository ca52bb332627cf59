package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamkit/catalog"
	skerrors "github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/queue"
	"github.com/c360/streamkit/types"
)

// fakeTransport scripts connect outcomes and records sends.
type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	connectErrs []error // consumed per Connect call; nil entry means success
	connects    int
	channels    []types.StreamChannel
	sent        [][]byte
	sendErr     error
	rtt         time.Duration
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) DiscoverChannels(context.Context) ([]types.StreamChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels, nil
}

func (f *fakeTransport) Subscribe(string) error   { return nil }
func (f *fakeTransport) Unsubscribe(string) error { return nil }

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) RTT() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rtt, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// stateRecorder collects transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State, _ int, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

func (r *stateRecorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateDisconnected
	}
	return r.states[len(r.states)-1]
}

func newController(tr *fakeTransport, rec *stateRecorder, restore func(context.Context) error) (*Controller, *catalog.Catalog, *queue.Queue) {
	cat := catalog.New()
	q, _ := queue.New(100)
	callbacks := Callbacks{OnRestore: restore}
	if rec != nil {
		callbacks.OnState = rec.record
	}
	c := New(tr, cat, q, Config{
		ReconnectAttempts:  3,
		ReconnectInterval:  10 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
		RateLimitPerSecond: 1000,
	}, callbacks)
	return c, cat, q
}

func TestConnectRefreshesCatalogAndRestores(t *testing.T) {
	tr := &fakeTransport{channels: []types.StreamChannel{
		{ID: "battery-temp", DataShape: types.ShapeScalar, FrequencyHz: 1},
	}}
	rec := &stateRecorder{}
	restored := false
	c, cat, _ := newController(tr, rec, func(context.Context) error {
		restored = true
		return nil
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, cat.Len())
	assert.True(t, restored)
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.states)
}

func TestConnectFailureIsNotRetried(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{errors.New("refused")}}
	c, _, _ := newController(tr, nil, nil)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, skerrors.IsTransient(err))
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, tr.connects)
}

func TestReconnectRecoversBeforeAttemptsExhausted(t *testing.T) {
	// first Connect succeeds, then the drop; the next two attempts fail
	// and the third recovers
	tr := &fakeTransport{connectErrs: []error{nil, errors.New("down"), errors.New("down"), nil}}
	rec := &stateRecorder{}
	restores := 0
	c, _, _ := newController(tr, rec, func(context.Context) error {
		restores++
		return nil
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	tr.Close()
	c.ConnectionLost(errors.New("broken pipe"))

	assert.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, rec.count(StateReconnecting))
	assert.Equal(t, 2, restores, "restore runs on initial connect and on recovery")
	assert.Zero(t, rec.count(StateFailed))
}

func TestReconnectExhaustionEmitsFailedOnce(t *testing.T) {
	down := errors.New("down")
	tr := &fakeTransport{connectErrs: []error{nil, down, down, down, down, down, down}}
	rec := &stateRecorder{}
	c, _, _ := newController(tr, rec, nil)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	tr.Close()
	c.ConnectionLost(errors.New("broken pipe"))
	// a second loss report while reconnecting must not restart the loop
	c.ConnectionLost(errors.New("broken pipe again"))

	assert.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(StateFailed))
	assert.Equal(t, 3, rec.count(StateReconnecting))
}

func TestFreshConnectReArmsFailedEmission(t *testing.T) {
	down := errors.New("down")
	tr := &fakeTransport{connectErrs: []error{nil, down, down, down}}
	rec := &stateRecorder{}
	c, _, _ := newController(tr, rec, nil)

	require.NoError(t, c.Connect(context.Background()))
	tr.Close()
	c.ConnectionLost(errors.New("broken pipe"))
	assert.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	// a later exhaustion after an explicit restart must report failed again
	require.NoError(t, c.Connect(context.Background()))
	tr.mu.Lock()
	tr.connectErrs = []error{down, down, down}
	tr.mu.Unlock()
	tr.Close()
	c.ConnectionLost(errors.New("broken pipe"))

	assert.Eventually(t, func() bool { return rec.count(StateFailed) == 2 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, c.Close())
}

func TestFlushSendsByPriority(t *testing.T) {
	tr := &fakeTransport{}
	c, _, q := newController(tr, nil, nil)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	payload := func(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }
	require.NoError(t, q.Enqueue(queue.Envelope{Type: "cmd", Payload: payload("low"), Priority: queue.PriorityLow}))
	require.NoError(t, q.Enqueue(queue.Envelope{Type: "cmd", Payload: payload("critical"), Priority: queue.PriorityCritical}))
	require.NoError(t, q.Enqueue(queue.Envelope{Type: "cmd", Payload: payload("normal"), Priority: queue.PriorityNormal}))

	assert.Eventually(t, func() bool { return tr.sentCount() == 3 }, time.Second, 5*time.Millisecond)

	var first queue.Envelope
	tr.mu.Lock()
	require.NoError(t, json.Unmarshal(tr.sent[0], &first))
	tr.mu.Unlock()
	assert.Equal(t, queue.PriorityCritical, first.Priority)
	assert.Zero(t, q.Len())
}

func TestSendFailuresAreDroppedAndReported(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("broken pipe")}
	var mu sync.Mutex
	var dropped []queue.Envelope

	cat := catalog.New()
	q, _ := queue.New(10)
	c := New(tr, cat, q, Config{
		ReconnectAttempts:  1,
		ReconnectInterval:  10 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
		RateLimitPerSecond: 1000,
	}, Callbacks{
		OnSendError: func(env queue.Envelope, err error) {
			mu.Lock()
			defer mu.Unlock()
			dropped = append(dropped, env)
		},
	})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, q.Enqueue(queue.Envelope{Type: "cmd", Priority: queue.PriorityHigh}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dropped) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, q.Len(), "failed send is not re-queued")
}

func TestLatencySampling(t *testing.T) {
	tr := &fakeTransport{rtt: 25 * time.Millisecond}
	cat := catalog.New()
	q, _ := queue.New(10)

	samples := make(chan time.Duration, 4)
	c := New(tr, cat, q, Config{
		ReconnectAttempts:  1,
		ReconnectInterval:  time.Second,
		HeartbeatInterval:  10 * time.Millisecond,
		RateLimitPerSecond: 1000,
	}, Callbacks{
		OnLatency: func(rtt time.Duration) {
			select {
			case samples <- rtt:
			default:
			}
		},
	})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	select {
	case rtt := <-samples:
		assert.Equal(t, 25*time.Millisecond, rtt)
	case <-time.After(time.Second):
		t.Fatal("no latency sample")
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	tr := &fakeTransport{}
	c, _, _ := newController(tr, nil, nil)
	assert.NoError(t, c.Close())
}
