package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
)

// echoHandler answers every round trip with its fixed payload.
func echoHandler(t *testing.T, payload any) Handler {
	t.Helper()
	return HandlerFunc(func(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error) {
		if env.Type == weatherpb.MethodRegister || env.Type == weatherpb.MethodUnregister || env.Type == weatherpb.MethodUpdateWeather {
			return nil, nil
		}
		return weatherpb.NewResponse(env.ID, payload, nil)
	})
}

func stringCall(t *testing.T) Call[string] {
	t.Helper()
	return func(ctx context.Context, ep Endpoint) (string, error) {
		raw, err := ep.Invoke(ctx, weatherpb.MethodGetCurrentWeather, weatherpb.CityRequest{City: "Seattle"})
		if err != nil {
			return "", err
		}
		var out string
		if err := weatherpb.Decode(raw, &out); err != nil {
			return "", err
		}
		return out, nil
	}
}

func TestExecuteForResult_ConnectsAndReturnsValue(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	got := ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))

	assert.Equal(t, "cloudy", got)
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, 1, lb.Connects())
}

func TestExecuteForResult_ConcurrentCallersSingleConnect(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)

	const callers = 16
	results := make(chan string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
		}()
	}

	// All callers must be queued before the connect completes.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == callers
	}, time.Second, time.Millisecond)

	lb.CompleteConnect()
	wg.Wait()
	close(results)

	for got := range results {
		assert.Equal(t, "cloudy", got)
	}
	assert.Equal(t, 1, lb.Connects(), "concurrent callers must coalesce into one connect attempt")
}

func TestExecuteForResult_RacedCallersKeepOneConnectPerEpisode(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	var mu sync.Mutex
	var seen []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	// The synchronous transport completes the connect before the trigger
	// returns, so a racing caller that decided to connect while the state
	// was still Disconnected would land its trigger on an already-live
	// link. That stale trigger must neither connect again nor bounce the
	// state back to Connecting.
	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
			assert.Equal(t, "cloudy", got)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, lb.Connects(), "racing callers must coalesce into one connect per episode")
	mu.Lock()
	assert.Equal(t, []State{Connecting, Connected}, seen)
	mu.Unlock()
}

func TestConnectService_NoOpWhileConnected(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	var seen []State
	c.OnStateChange(func(s State) { seen = append(seen, s) })

	c.ConnectService()
	require.Equal(t, Connected, c.State())

	// A stale connect arriving after the episode completed is dropped.
	c.ConnectService()

	assert.Equal(t, 1, lb.Connects())
	assert.Equal(t, []State{Connecting, Connected}, seen, "a live link must not be restarted")
}

func TestExecuteForResult_WaitersReleasedInArrivalOrder(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)

	var ws []*waiter
	for i := 0; i < 5; i++ {
		w := &waiter{id: string(rune('a' + i)), resume: make(chan Endpoint, 1)}
		ws = append(ws, w)
		c.mu.Lock()
		c.waiters = append(c.waiters, w)
		c.mu.Unlock()
	}
	c.ConnectService()
	lb.CompleteConnect()

	// Every waiter was resumed, and the queue drained in FIFO order: the
	// resume buffer of each waiter was filled before the next one's.
	for i, w := range ws {
		select {
		case ep := <-w.resume:
			require.NotNil(t, ep, "waiter %d got a nil endpoint", i)
		default:
			t.Fatalf("waiter %d was not resumed", i)
		}
	}
	c.mu.Lock()
	assert.Empty(t, c.waiters)
	c.mu.Unlock()
}

func TestExecuteForResult_TimeoutReturnsFallback(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)
	c.waitTimeout = 20 * time.Millisecond

	var calls atomic.Int32
	got := ExecuteForResult(c, context.Background(), "current", "fallback",
		func(ctx context.Context, ep Endpoint) (string, error) {
			calls.Add(1)
			return "cloudy", nil
		})
	assert.Equal(t, "fallback", got)
	assert.Equal(t, int32(0), calls.Load())

	// A late connect completion must not re-resume the timed-out waiter.
	lb.CompleteConnect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, Connected, c.State())
}

func TestExecuteForResult_TimeoutOfOneWaiterLeavesOthersPending(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)

	// One caller with a short ceiling, one with a long one.
	c.waitTimeout = 20 * time.Millisecond
	fast := make(chan string, 1)
	go func() {
		fast <- ExecuteForResult(c, context.Background(), "fast", "fallback", stringCall(t))
	}()
	require.Equal(t, "fallback", <-fast)

	c.mu.Lock()
	c.waitTimeout = time.Second
	c.mu.Unlock()
	slow := make(chan string, 1)
	go func() {
		slow <- ExecuteForResult(c, context.Background(), "slow", "fallback", stringCall(t))
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == 1
	}, time.Second, time.Millisecond)

	// The fast caller's expiry did not cancel the in-flight connect; the
	// slow caller still benefits from it.
	lb.CompleteConnect()
	assert.Equal(t, "cloudy", <-slow)
}

func TestExecuteForResult_DisconnectedByClientFailsFast(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	c.DisconnectService()

	start := time.Now()
	got := ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	assert.Equal(t, "fallback", got)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, lb.Connects(), "an intentional disconnect is never auto-retried")

	// A fresh explicit connect re-enables calls.
	c.ConnectService()
	got = ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	assert.Equal(t, "cloudy", got)
}

func TestExecuteForResult_TransportFailureRetriesOnNextCall(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)
	c.waitTimeout = 200 * time.Millisecond

	done := make(chan string, 1)
	go func() {
		done <- ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	}()

	require.Eventually(t, func() bool { return lb.Connects() == 1 }, time.Second, time.Millisecond)
	lb.FailConnect(errors.New("bind refused"))
	assert.Equal(t, "fallback", <-done)
	assert.Equal(t, Disconnected, c.State())

	// The next caller starts a new attempt for the new episode.
	go func() {
		done <- ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	}()
	require.Eventually(t, func() bool { return lb.Connects() == 2 }, time.Second, time.Millisecond)
	lb.CompleteConnect()
	assert.Equal(t, "cloudy", <-done)
}

func TestExecuteForResult_CallErrorAndPanicBecomeFallback(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	got := ExecuteForResult(c, context.Background(), "failing", "fallback",
		func(ctx context.Context, ep Endpoint) (string, error) {
			return "", errors.New("remote exploded")
		})
	assert.Equal(t, "fallback", got)

	got = ExecuteForResult(c, context.Background(), "panicking", "fallback",
		func(ctx context.Context, ep Endpoint) (string, error) {
			panic("boom")
		})
	assert.Equal(t, "fallback", got)

	// The session survives the faults.
	assert.Equal(t, Connected, c.State())
}

func TestExecuteOneWay_NeverBlocksCaller(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true // connect never completes during the test
	c := NewClient(lb)

	start := time.Now()
	c.ExecuteOneWay("updateWeather", func(ctx context.Context, ep Endpoint) error {
		return ep.Send(weatherpb.MethodUpdateWeather, nil)
	})
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSetState_RepeatedAssignmentRedelivers(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	var notified atomic.Int32
	c.OnStateChange(func(State) { notified.Add(1) })

	c.SetState(Connected)
	c.SetState(Connected)
	c.SetState(Connected)

	assert.Equal(t, int32(3), notified.Load(), "repeated identical states must still emit")
}

func TestSetState_ListenerFiresSynchronously(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)

	var seen []State
	c.OnStateChange(func(s State) { seen = append(seen, s) })

	c.SetState(Connecting)
	require.Equal(t, []State{Connecting}, seen)
	c.SetState(Connected)
	require.Equal(t, []State{Connecting, Connected}, seen)
}

func TestOnServiceDisconnected_DistinctFromClientDisconnect(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)
	c.ConnectService()
	require.Equal(t, Connected, c.State())

	lb.DropFromService(errors.New("service died"))
	assert.Equal(t, DisconnectedByService, c.State())

	// A service drop is retryable: the next call reconnects.
	got := ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	assert.Equal(t, "cloudy", got)

	// But transport events never override an intentional disconnect.
	c.DisconnectService()
	lb.DropFromService(errors.New("late read error"))
	assert.Equal(t, DisconnectedByClient, c.State())
}

func TestExecuteForResult_RoundTripBoundedWithoutDeadline(t *testing.T) {
	stall := make(chan struct{})
	defer close(stall)
	lb := NewLoopback(HandlerFunc(func(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error) {
		<-stall
		return weatherpb.NewResponse(env.ID, "late", nil)
	}))
	c := NewClient(lb)
	c.waitTimeout = 50 * time.Millisecond

	// A background context carries no deadline; the gate's ceiling must
	// still bound the round trip against the stalled connection.
	start := time.Now()
	got := ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	assert.Equal(t, "fallback", got)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Connected, c.State())
}

func TestExecuteForResult_CallerDeadlineTakesPrecedence(t *testing.T) {
	stall := make(chan struct{})
	defer close(stall)
	lb := NewLoopback(HandlerFunc(func(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error) {
		<-stall
		return weatherpb.NewResponse(env.ID, "late", nil)
	}))
	c := NewClient(lb)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := ExecuteForResult(c, ctx, "current", "fallback", stringCall(t))
	assert.Equal(t, "fallback", got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteForResult_LogsSentinelFailureModes(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()
	prev := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(prev)

	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)
	c.waitTimeout = 20 * time.Millisecond

	got := ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	require.Equal(t, "fallback", got)
	assert.True(t, loggedMessage(hook, ErrNotConnected.Error()),
		"an elapsed wait should be recorded as %v", ErrNotConnected)

	c.DisconnectService()
	got = ExecuteForResult(c, context.Background(), "current", "fallback", stringCall(t))
	require.Equal(t, "fallback", got)
	assert.True(t, loggedMessage(hook, ErrDisconnectedByClient.Error()),
		"a call after an intentional disconnect should be recorded as %v", ErrDisconnectedByClient)
}

func loggedMessage(hook *logtest.Hook, substr string) bool {
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}

func TestLoopbackEndpoint_ClosedReportsNotConnected(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	c := NewClient(lb)
	c.ConnectService()
	require.Equal(t, Connected, c.State())

	ep, ok := c.CurrentEndpoint()
	require.True(t, ok)
	c.DisconnectService()

	_, err := ep.Invoke(context.Background(), weatherpb.MethodGetCurrentWeather, weatherpb.CityRequest{City: "Seattle"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, ep.Send(weatherpb.MethodUpdateWeather, nil), ErrNotConnected)
}

func TestContextCancellationVacatesWaiter(t *testing.T) {
	lb := NewLoopback(echoHandler(t, "cloudy"))
	lb.Manual = true
	c := NewClient(lb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() {
		done <- ExecuteForResult(c, ctx, "current", "fallback", stringCall(t))
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.Equal(t, "fallback", <-done)
	c.mu.Lock()
	assert.Empty(t, c.waiters, "cancelled waiter must not leak")
	c.mu.Unlock()
}
