package util

import (
	"github.com/lithammer/shortuuid/v4"
)

// GenID returns a short unique ID, used for request envelopes and waiter
// identities.
func GenID() string {
	return shortuuid.New()
}

// GenIDWith returns a short unique ID under a readable prefix, e.g.
// "conn-" for daemon-side connections.
func GenIDWith(prefix string) string {
	return prefix + shortuuid.New()
}
