package weather

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/provider"
	"github.com/skycastd/skycast/internal/service"
	"github.com/skycastd/skycast/internal/session"
)

// loopbackCallback bridges the service's push hub back into the loopback
// transport, standing in for the client's connection.
type loopbackCallback struct {
	lb *session.Loopback
}

func (c *loopbackCallback) Deliver(env *weatherpb.Envelope) error {
	c.lb.Push(env)
	return nil
}

// newFixture wires a real service behind a loopback transport.
func newFixture(t *testing.T) (*Client, *service.Service, *session.Loopback) {
	t.Helper()

	store := service.NewStore()
	svc := service.New(store, service.NewHub(), provider.NewStaticProvider(),
		[]string{"Seattle", "Portland"}, 0)

	cb := &loopbackCallback{}
	lb := session.NewLoopback(session.HandlerFunc(
		func(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error) {
			return svc.Dispatch(ctx, cb, env)
		}))
	cb.lb = lb

	return NewClient(lb), svc, lb
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) Deliver(u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *updateRecorder) seen() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func TestCurrentForCity_ConnectsAndReturnsValue(t *testing.T) {
	c, _, lb := newFixture(t)
	require.Equal(t, session.Disconnected, c.Session().State())

	got := c.CurrentForCity(context.Background(), "Seattle")

	assert.Equal(t, "Seattle: Overcast, 54.3°F", got)
	assert.NotEqual(t, NoDataFallback, got)
	assert.Equal(t, 1, lb.Connects(), "the call itself must trigger the connect")
	assert.Equal(t, session.Connected, c.Session().State())
}

func TestCurrentForCity_UnknownCityFallsBack(t *testing.T) {
	c, _, _ := newFixture(t)

	got := c.CurrentForCity(context.Background(), "Atlantis")

	assert.Equal(t, NoDataFallback, got)
}

func TestForecastForCity_RendersDays(t *testing.T) {
	c, _, _ := newFixture(t)

	got := c.ForecastForCity(context.Background(), "Portland")

	assert.Contains(t, got, "Portland +0d: Light rain, 57.0°F")
	assert.Contains(t, got, "Portland +2d: Light rain, 59.0°F")
}

func TestConnect_RegistersRemoteCallback(t *testing.T) {
	c, svc, _ := newFixture(t)

	c.Connect()

	// The register call is oneway, so it lands asynchronously.
	require.Eventually(t, func() bool { return svc.Hub().Len() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, Running, c.State())
}

func TestWeatherUpdatePush_MutatesDomainStateAndBroadcasts(t *testing.T) {
	c, svc, _ := newFixture(t)
	c.Connect()
	require.Eventually(t, func() bool { return svc.Hub().Len() == 1 },
		time.Second, time.Millisecond)

	r := &updateRecorder{}
	c.Subscribe(r)
	before := len(r.seen())

	svc.UpdateWeather(context.Background())

	require.Eventually(t, func() bool { return c.LastUpdateMillis() > 0 },
		time.Second, time.Millisecond)
	updates := r.seen()
	require.Greater(t, len(updates), before)
	last := updates[len(updates)-1]
	assert.Equal(t, Running, last.State)
	assert.Equal(t, c.LastUpdateMillis(), last.LastUpdateMillis)
}

func TestSubscribe_DeliversCurrentStateSynchronously(t *testing.T) {
	c, _, _ := newFixture(t)

	r := &updateRecorder{}
	c.Subscribe(r)

	updates := r.seen()
	require.Len(t, updates, 1, "registration must replay the current state before returning")
	assert.Equal(t, Stopped, updates[0].State)
}

func TestSessionStateMapsToDomainState(t *testing.T) {
	c, _, _ := newFixture(t)
	r := &updateRecorder{}
	c.Subscribe(r)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == Running },
		time.Second, time.Millisecond)

	c.Session().SetState(session.DisconnectedByService)
	assert.Equal(t, Stopped, c.State())

	updates := r.seen()
	assert.Equal(t, Stopped, updates[len(updates)-1].State)
}

func TestTeardown_UnregistersAndDisconnects(t *testing.T) {
	c, svc, _ := newFixture(t)
	c.Connect()
	require.Eventually(t, func() bool { return svc.Hub().Len() == 1 },
		time.Second, time.Millisecond)

	c.Teardown()

	assert.Equal(t, 0, svc.Hub().Len(), "the service must stop delivering to a dead client")
	assert.Equal(t, session.DisconnectedByClient, c.Session().State())
	assert.Equal(t, Stopped, c.State())

	// Calls after teardown fail fast with the fallback.
	start := time.Now()
	got := c.CurrentForCity(context.Background(), "Seattle")
	assert.Equal(t, NoDataFallback, got)
	assert.Less(t, time.Since(start), time.Second)
}
