package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestClient(t *testing.T) (*Client, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(ctx, WithClock(clk.Now), WithLogger(zerolog.Nop()), WithGCInterval(time.Hour)), clk
}

func counting(v string, calls *atomic.Int32) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestKeyHasPrefix(t *testing.T) {
	assert.True(t, Key{"AList", "{}"}.HasPrefix(Key{"AList"}))
	assert.True(t, Key{"A"}.HasPrefix(Key{}))
	assert.False(t, Key{"A", "1"}.HasPrefix(Key{"AList"}))
	assert.False(t, Key{"A"}.HasPrefix(Key{"A", "1"}))
}

func TestFetch_FreshThenStale(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	q := Query[string]{Key: Key{"A", "1"}, Fn: counting("v", &calls), StaleTime: time.Minute}

	v, err := Fetch(ctx, c, q)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = Fetch(ctx, c, q)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(time.Minute)
	_, err = Fetch(ctx, c, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_Deduplicates(t *testing.T) {
	c, _ := newTestClient(t)
	var calls atomic.Int32
	release := make(chan struct{})
	q := Query[int]{Key: Key{"slow"}, Fn: func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Fetch(context.Background(), c, q)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestFetch_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	c, _ := newTestClient(t)
	release := make(chan struct{})
	q := Query[int]{Key: Key{"slow"}, Fn: func(ctx context.Context) (int, error) {
		<-release
		return 7, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, c, q)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		v, ok := Data[int](c, Key{"slow"})
		return ok && v == 7
	}, time.Second, 5*time.Millisecond)
}

func TestFetch_ErrorKeepsPreviousData(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	fail := false
	q := Query[string]{Key: Key{"A"}, StaleTime: time.Minute, Fn: func(context.Context) (string, error) {
		if fail {
			return "", errors.New("down")
		}
		return "ok", nil
	}}

	_, err := Fetch(ctx, c, q)
	require.NoError(t, err)

	fail = true
	clk.Advance(2 * time.Minute)
	_, err = Fetch(ctx, c, q)
	require.Error(t, err)

	st, ok := c.State(Key{"A"})
	require.True(t, ok)
	assert.Equal(t, "ok", st.Data)
	assert.EqualError(t, st.Err, "down")
}

func TestSubscribe_MountAndInvalidate(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	var listCalls, otherCalls atomic.Int32
	list := Query[string]{Key: Key{"AList", "p1"}, Fn: counting("page", &listCalls), StaleTime: time.Minute, RefetchOnMount: true}
	idle := Query[string]{Key: Key{"AList", "p2"}, Fn: counting("page2", &otherCalls), StaleTime: time.Minute}

	var updates atomic.Int32
	v, obs, err := Subscribe(ctx, c, list, func(State) { updates.Add(1) })
	require.NoError(t, err)
	defer obs.Close()
	assert.Equal(t, "page", v)

	// cached but not observed
	_, err = Fetch(ctx, c, idle)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, Key{"AList"}))
	assert.Equal(t, int32(2), listCalls.Load())
	assert.Equal(t, int32(1), otherCalls.Load())
	assert.Equal(t, int32(2), updates.Load())

	st, _ := c.State(Key{"AList", "p2"})
	assert.True(t, st.Stale)

	// the idle entry refetches on next use
	_, err = Fetch(ctx, c, idle)
	require.NoError(t, err)
	assert.Equal(t, int32(2), otherCalls.Load())
}

// gatedServer serves its current value and holds the second load until released
type gatedServer struct {
	value   atomic.Value
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedServer(v string) *gatedServer {
	g := &gatedServer{started: make(chan struct{}), release: make(chan struct{})}
	g.value.Store(v)
	return g
}

func (g *gatedServer) load(context.Context) (string, error) {
	n := g.calls.Add(1)
	v := g.value.Load().(string)
	if n == 2 {
		close(g.started)
		<-g.release
	}
	return v, nil
}

func TestInvalidate_SupersedesInFlightFetch(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	srv := newGatedServer("old")
	list := Query[string]{Key: Key{"AList", "p1"}, Fn: srv.load, StaleTime: time.Minute, RefetchOnMount: true}

	_, obs, err := Subscribe(ctx, c, list, nil)
	require.NoError(t, err)
	defer obs.Close()

	clk.Advance(time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Fetch(ctx, c, list)
	}()
	<-srv.started

	srv.value.Store("new")
	require.NoError(t, c.Invalidate(ctx, Key{"AList"}))
	assert.Equal(t, int32(3), srv.calls.Load())

	close(srv.release)
	<-done

	st, ok := c.State(Key{"AList", "p1"})
	require.True(t, ok)
	assert.Equal(t, "new", st.Data)
	assert.False(t, st.Stale)
}

func TestInvalidate_UnobservedEntryStaysStale(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	srv := newGatedServer("old")
	q := Query[string]{Key: Key{"AList", "p1"}, Fn: srv.load, StaleTime: time.Minute}

	_, err := Fetch(ctx, c, q)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Fetch(ctx, c, q)
	}()
	<-srv.started

	srv.value.Store("new")
	require.NoError(t, c.Invalidate(ctx, Key{"AList"}))
	close(srv.release)
	<-done

	st, _ := c.State(Key{"AList", "p1"})
	assert.True(t, st.Stale)

	v, err := Fetch(ctx, c, q)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestSetQueryData_WinsOverInFlightFetch(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	srv := newGatedServer("old")
	q := Query[string]{Key: Key{"A", "1"}, Fn: srv.load, StaleTime: time.Minute}

	_, err := Fetch(ctx, c, q)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Fetch(ctx, c, q)
	}()
	<-srv.started

	c.SetQueryData(Key{"A", "1"}, "saved")
	close(srv.release)
	<-done

	v, ok := Data[string](c, Key{"A", "1"})
	require.True(t, ok)
	assert.Equal(t, "saved", v)
}

func TestSubscribe_NoRefetchOnMountWhenDataPresent(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	q := Query[string]{Key: Key{"A", "1"}, Fn: counting("v", &calls), StaleTime: time.Minute}

	_, err := Fetch(ctx, c, q)
	require.NoError(t, err)
	clk.Advance(time.Hour)

	v, obs, err := Subscribe(ctx, c, q, nil)
	require.NoError(t, err)
	defer obs.Close()
	assert.Equal(t, "v", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFocusAndReconnect(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	var viewCalls, listCalls atomic.Int32
	view := Query[string]{Key: Key{"A", "1"}, Fn: counting("v", &viewCalls), StaleTime: time.Minute}
	list := Query[string]{Key: Key{"AList", "x"}, Fn: counting("l", &listCalls), StaleTime: time.Minute,
		RefetchOnFocus: true, RefetchOnReconnect: true}

	_, o1, err := Subscribe(ctx, c, view, nil)
	require.NoError(t, err)
	defer o1.Close()
	_, o2, err := Subscribe(ctx, c, list, nil)
	require.NoError(t, err)
	defer o2.Close()

	// fresh data is left alone
	require.NoError(t, c.Focus(ctx))
	assert.Equal(t, int32(1), listCalls.Load())

	clk.Advance(2 * time.Minute)
	require.NoError(t, c.Focus(ctx))
	assert.Equal(t, int32(2), listCalls.Load())

	clk.Advance(2 * time.Minute)
	require.NoError(t, c.Reconnect(ctx))
	assert.Equal(t, int32(3), listCalls.Load())
	assert.Equal(t, int32(1), viewCalls.Load())
}

func TestGC(t *testing.T) {
	c, clk := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	q := Query[string]{Key: Key{"A", "1"}, Fn: counting("v", &calls), StaleTime: time.Minute, GCTime: 10 * time.Minute}

	_, obs, err := Subscribe(ctx, c, q, nil)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	assert.Equal(t, 0, c.GC(), "observed entries are kept")

	obs.Close()
	obs.Close()
	clk.Advance(9 * time.Minute)
	assert.Equal(t, 0, c.GC())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, c.GC())
	_, ok := c.State(Key{"A", "1"})
	assert.False(t, ok)
}

func TestSetQueryData(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetQueryData(Key{"A", "1"}, "direct")

	v, ok := Data[string](c, Key{"A", "1"})
	require.True(t, ok)
	assert.Equal(t, "direct", v)

	_, ok = Data[int](c, Key{"A", "1"})
	assert.False(t, ok)
	_, ok = c.GetQueryData(Key{"missing"})
	assert.False(t, ok)
	assert.Len(t, c.Keys(), 1)
}

func TestMutate(t *testing.T) {
	ctx := context.Background()
	var gotErr error
	m := MutationOptions[string, int]{
		Fn: func(_ context.Context, p int) (string, error) {
			if p < 0 {
				return "", errors.New("negative")
			}
			return "ok", nil
		},
		OnError: func(_ context.Context, err error, _ int) { gotErr = err },
	}

	v, err := Mutate(ctx, m, 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = Mutate(ctx, m, -1)
	assert.EqualError(t, err, "negative")
	assert.Equal(t, err, gotErr)
}
