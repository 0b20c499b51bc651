package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycastd/skycast/internal/auth"
	"github.com/skycastd/skycast/internal/provider"
	"github.com/skycastd/skycast/internal/session"
	"github.com/skycastd/skycast/internal/weather"
)

// startServer runs a full daemon stack behind an httptest listener and
// returns the ws URL of its weather link.
func startServer(t *testing.T, secret string) (*Service, string) {
	t.Helper()

	svc := New(NewStore(), NewHub(), provider.NewStaticProvider(),
		[]string{"Seattle", "Portland"}, 0)
	srv := NewServer(svc, auth.NewVerifier(secret))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return svc, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestServer_RoundTripOverWebsocket(t *testing.T) {
	_, url := startServer(t, "")

	client := weather.NewClient(session.NewWSTransport(url, ""))
	defer client.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := client.CurrentForCity(ctx, "Seattle")
	assert.Equal(t, "Seattle: Overcast, 54.3°F", got)

	got = client.CurrentForCity(ctx, "Atlantis")
	assert.Equal(t, weather.NoDataFallback, got)
}

func TestServer_PushReachesClient(t *testing.T) {
	svc, url := startServer(t, "")

	client := weather.NewClient(session.NewWSTransport(url, ""))
	defer client.Teardown()
	client.Connect()

	require.Eventually(t, func() bool { return svc.Hub().Len() == 1 },
		5*time.Second, 10*time.Millisecond)

	svc.UpdateWeather(context.Background())

	require.Eventually(t, func() bool { return client.LastUpdateMillis() > 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestServer_ClientDisconnectPrunesCallback(t *testing.T) {
	svc, url := startServer(t, "")

	client := weather.NewClient(session.NewWSTransport(url, ""))
	client.Connect()
	require.Eventually(t, func() bool { return svc.Hub().Len() == 1 },
		5*time.Second, 10*time.Millisecond)

	client.Teardown()

	// Either the unregister frame or the read loop's defer removes the
	// callback once the conn drops.
	require.Eventually(t, func() bool { return svc.Hub().Len() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestServer_RejectsBadHandshakeToken(t *testing.T) {
	_, url := startServer(t, "server-secret")

	// No token at all.
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Token signed with the wrong secret.
	bad, err := auth.Token("wrong-secret", "test", time.Minute)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+bad)
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A properly minted token connects.
	good, err := auth.Token("server-secret", "test", time.Minute)
	require.NoError(t, err)
	header.Set("Authorization", "Bearer "+good)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_Healthz(t *testing.T) {
	svc := New(NewStore(), NewHub(), provider.NewStaticProvider(), nil, 0)
	srv := NewServer(svc, auth.NewVerifier(""))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
