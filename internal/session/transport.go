package session

import (
	"context"
	"encoding/json"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
)

// Endpoint is the live handle to the connected remote service. It exists if
// and only if the session is connected (or is being produced by a connect in
// flight) and is cleared on any disconnection.
type Endpoint interface {
	// Invoke performs a round trip: it sends a request envelope and returns
	// the raw response payload, or the remote error.
	Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error)
	// Send fires a oneway frame. It returns once the frame is handed to the
	// link; there is no response.
	Send(method string, payload any) error
}

// Binding is what a transport reports into while establishing and holding a
// link. The session client implements it; a transport must call exactly one
// of OnConnected or OnDisconnected per connect attempt.
type Binding interface {
	// OnConnected delivers the live endpoint for a successful attempt.
	OnConnected(ep Endpoint)
	// OnDisconnected reports a failed attempt or a local link error.
	OnDisconnected(err error)
	// OnServiceDisconnected reports that the remote side hung up.
	OnServiceDisconnected(err error)
	// OnPush delivers a service-originated event.
	OnPush(env *weatherpb.Envelope)
}

// Transport establishes the link to the service. Connect may complete
// asynchronously; completion is always reported through the binding.
type Transport interface {
	Connect(binding Binding) error
	Close() error
}
