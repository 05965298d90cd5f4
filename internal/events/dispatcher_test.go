package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/metrics"
	"github.com/blackwell-systems/addonsync/internal/queue"
	"github.com/blackwell-systems/addonsync/internal/store"
)

type call struct {
	listener string
	kind     addon.EventKind
	name     string
	status   addon.Status
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) listener(name string) Listener {
	return func(_ context.Context, kind addon.EventKind, rec *addon.Record) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, call{listener: name, kind: kind, name: rec.Name, status: rec.Status})
		return nil
	}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, c.listener)
	}
	return out
}

type fixture struct {
	store    *store.Store
	queue    *queue.Queue
	registry *Registry
	metrics  *metrics.Metrics
	disp     *Dispatcher
	rec      *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	q := queue.New(queue.NewMemoryStorage())
	reg := NewRegistry(nil, nil)
	m := metrics.New()
	return &fixture{
		store:    st,
		queue:    q,
		registry: reg,
		metrics:  m,
		disp:     NewDispatcher(q, st, reg, nil, m),
		rec:      &recorder{},
	}
}

func (f *fixture) createPlugin(t *testing.T, name string) *addon.Record {
	t.Helper()
	ctx := context.Background()
	repoID, err := f.store.InsertRepository(ctx, "main", "https://packages.example.com")
	require.NoError(t, err)
	rec, err := f.store.Create(ctx, &addon.Record{
		Kind:           addon.KindPlugin,
		Name:           name,
		Status:         addon.StatusActivated,
		RepositoryID:   repoID,
		CurrentVersion: "1.0",
		TargetVersion:  "1.0",
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) enqueue(t *testing.T, kind addon.EventKind, ref addon.Ref, listeners ...string) queue.Entry {
	t.Helper()
	e, err := f.queue.Enqueue(context.Background(), kind, ref, listeners)
	require.NoError(t, err)
	return e
}

func TestDispatch_ListenersThenChannelThenKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")

	f.registry.Register("first", f.rec.listener("first"))
	f.registry.Register("second", f.rec.listener("second"))
	f.registry.Subscribe(string(addon.EventInstalled), f.rec.listener("generic"))
	f.registry.Subscribe(addon.Channel(addon.EventInstalled, "vendor/a"), f.rec.listener("channel"))
	f.registry.Subscribe(addon.Channel(addon.EventInstalled, "vendor/b"), f.rec.listener("other"))

	entry := f.enqueue(t, addon.EventInstalled, rec.Ref(), "first", "second")
	require.NoError(t, f.disp.Dispatch(ctx, entry))

	assert.Equal(t, []string{"first", "second", "channel", "generic"}, f.rec.names())
	assert.Equal(t, addon.StatusActivated, f.rec.calls[0].status, "listeners receive the live record")
}

func TestDispatch_FailingListenerIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")

	f.registry.Register("broken", func(context.Context, addon.EventKind, *addon.Record) error {
		return errors.New("listener exploded")
	})
	f.registry.Register("panics", func(context.Context, addon.EventKind, *addon.Record) error {
		panic("nil map")
	})
	f.registry.Register("ok", f.rec.listener("ok"))

	entry := f.enqueue(t, addon.EventInstalled, rec.Ref(), "broken", "missing", "panics", "ok")
	require.NoError(t, f.disp.Dispatch(ctx, entry))

	assert.Equal(t, []string{"ok"}, f.rec.names())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ListenerFailures.WithLabelValues("broken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ListenerFailures.WithLabelValues("missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ListenerFailures.WithLabelValues("panics")))
}

func TestDispatch_DeletedRecordYieldsStub(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")
	require.NoError(t, f.store.Delete(ctx, addon.KindPlugin, "vendor/a"))

	var got *addon.Record
	f.registry.Register("capture", func(_ context.Context, _ addon.EventKind, r *addon.Record) error {
		got = r
		return nil
	})

	entry := f.enqueue(t, addon.EventUninstalled, rec.Ref(), "capture")
	require.NoError(t, f.disp.Dispatch(ctx, entry))

	require.NotNil(t, got)
	assert.Equal(t, addon.Record{Kind: addon.KindPlugin, ID: rec.ID, Name: "vendor/a"}, *got)
}

func TestDispatch_UninstalledIgnoresLaterReinstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.createPlugin(t, "vendor/a")
	entry := f.enqueue(t, addon.EventUninstalled, old.Ref(), "capture")

	require.NoError(t, f.store.Delete(ctx, addon.KindPlugin, "vendor/a"))
	fresh, err := f.store.Create(ctx, &addon.Record{
		Kind:           addon.KindPlugin,
		Name:           "vendor/a",
		Status:         addon.StatusActivated,
		RepositoryID:   old.RepositoryID,
		CurrentVersion: "2.0",
		TargetVersion:  "2.0",
	})
	require.NoError(t, err)
	require.NotEqual(t, old.ID, fresh.ID)

	var got *addon.Record
	f.registry.Register("capture", func(_ context.Context, _ addon.EventKind, r *addon.Record) error {
		got = r
		return nil
	})
	require.NoError(t, f.disp.Dispatch(ctx, entry))

	require.NotNil(t, got)
	assert.Equal(t, addon.Record{Kind: addon.KindPlugin, ID: old.ID, Name: "vendor/a"}, *got)
}

func TestDispatch_InstalledFallsBackToName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")

	var got *addon.Record
	f.registry.Register("capture", func(_ context.Context, _ addon.EventKind, r *addon.Record) error {
		got = r
		return nil
	})
	entry := f.enqueue(t, addon.EventInstalled, addon.Ref{Kind: addon.KindPlugin, ID: rec.ID + 100, Name: "vendor/a"}, "capture")
	require.NoError(t, f.disp.Dispatch(ctx, entry))

	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, addon.StatusActivated, got.Status)
}

func TestDispatch_StoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")
	f.registry.Register("ok", f.rec.listener("ok"))

	entry := f.enqueue(t, addon.EventInstalled, rec.Ref(), "ok")
	require.NoError(t, f.store.Close())

	assert.Error(t, f.disp.Dispatch(ctx, entry))
	assert.Empty(t, f.rec.names())
}

func TestFlush_DispatchesAllThenClears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")
	f.registry.Register("ok", f.rec.listener("ok"))

	f.enqueue(t, addon.EventUpdateFailed, rec.Ref(), "ok")
	f.enqueue(t, addon.EventInstalled, rec.Ref(), "ok")

	n, err := f.disp.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kinds := []addon.EventKind{f.rec.calls[0].kind, f.rec.calls[1].kind}
	assert.Equal(t, []addon.EventKind{addon.EventInstalled, addon.EventUpdateFailed}, kinds)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Drains))
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	f := newFixture(t)

	n, err := f.disp.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, testutil.ToFloat64(f.metrics.Drains))
}

type lateSource struct {
	*queue.Queue
	once sync.Once
	late func()
}

func (s *lateSource) Acknowledge(ctx context.Context, ids []string) error {
	s.once.Do(s.late)
	return s.Queue.Acknowledge(ctx, ids)
}

func TestFlush_KeepsEntriesEnqueuedDuringDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")

	f.enqueue(t, addon.EventInstalled, rec.Ref())
	src := &lateSource{Queue: f.queue, late: func() {
		f.enqueue(t, addon.EventUpdated, rec.Ref())
	}}
	disp := NewDispatcher(src, f.store, f.registry, nil, nil)

	n, err := disp.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, addon.EventUpdated, remaining[0].Kind)
}

func TestRegistry_ResolveBuiltins(t *testing.T) {
	reg := NewRegistry(nil, nil)

	_, err := reg.Resolve("log")
	assert.NoError(t, err)
	_, err = reg.Resolve("webhook:http://hooks.example.com/x")
	assert.NoError(t, err)

	_, err = reg.Resolve("webhook:")
	assert.ErrorIs(t, err, ErrListenerNotFound)
	_, err = reg.Resolve("App\\Listeners\\Unknown")
	assert.ErrorIs(t, err, ErrListenerNotFound)

	called := false
	reg.Register("log", func(context.Context, addon.EventKind, *addon.Record) error {
		called = true
		return nil
	})
	l, err := reg.Resolve("log")
	require.NoError(t, err)
	require.NoError(t, l(context.Background(), addon.EventInstalled, &addon.Record{}))
	assert.True(t, called, "registered refs shadow built-ins")
}

func TestWebhookListener(t *testing.T) {
	var (
		mu       sync.Mutex
		received []WebhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var p WebhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	rec := &addon.Record{Kind: addon.KindTheme, ID: 7, Name: "vendor/theme-x", Status: addon.StatusActivated, Supports: []string{"web"}}

	ok, err := reg.Resolve("webhook:" + srv.URL + "/ok")
	require.NoError(t, err)
	require.NoError(t, ok(context.Background(), addon.EventInstalled, rec))

	failing, err := reg.Resolve("webhook:" + srv.URL + "/fail")
	require.NoError(t, err)
	assert.Error(t, failing(context.Background(), addon.EventInstalled, rec))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, addon.EventInstalled, received[0].Event)
	assert.Equal(t, "latus.package.installed.vendor/theme-x", received[0].Channel)
	assert.Equal(t, int64(7), received[0].ID)
	assert.Equal(t, []string{"web"}, received[0].Supports)
}

type countingFlusher struct {
	calls atomic.Int32
	err   error
}

func (c *countingFlusher) Flush(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestTrigger_FiresOncePerArm(t *testing.T) {
	ctx := context.Background()
	f := &countingFlusher{}
	tr := NewTrigger(f, nil)
	assert.True(t, tr.Armed())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.Fire(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
	assert.False(t, tr.Armed())

	_, err := tr.Fire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	tr.Arm()
	_, err = tr.Fire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTrigger_RearmsOnFailure(t *testing.T) {
	ctx := context.Background()
	f := &countingFlusher{err: errors.New("disk unavailable")}
	tr := NewTrigger(f, nil)

	_, err := tr.Fire(ctx)
	assert.Error(t, err)
	assert.True(t, tr.Armed())

	f.err = nil
	_, err = tr.Fire(ctx)
	require.NoError(t, err)
	assert.False(t, tr.Armed())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTrigger_WithDispatcher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createPlugin(t, "vendor/a")
	f.registry.Register("ok", f.rec.listener("ok"))
	f.enqueue(t, addon.EventInstalled, rec.Ref(), "ok")

	tr := NewTrigger(f.disp, nil)
	n, err := tr.Fire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Entries arriving after the trigger fired wait for the next arming.
	f.enqueue(t, addon.EventUpdated, rec.Ref(), "ok")
	n, err = tr.Fire(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tr.Arm()
	n, err = tr.Fire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ok", "ok"}, f.rec.names())
}

func TestRegistry_Alias(t *testing.T) {
	reg := NewRegistry(nil, nil)
	rec := &recorder{}
	reg.Register("target", rec.listener("target"))
	reg.Alias("short", "target")
	reg.Alias("dangling", "nowhere")

	l, err := reg.Resolve("short")
	require.NoError(t, err)
	require.NoError(t, l(context.Background(), addon.EventUpdated, &addon.Record{Name: "vendor/a"}))
	assert.Equal(t, []string{"target"}, rec.names())

	l, err = reg.Resolve("dangling")
	require.NoError(t, err)
	assert.ErrorIs(t, l(context.Background(), addon.EventUpdated, &addon.Record{}), ErrListenerNotFound)
}
