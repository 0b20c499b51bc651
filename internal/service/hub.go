package service

import (
	"github.com/sirupsen/logrus"

	"github.com/skycastd/skycast/internal/broadcast"
	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/util"
)

// Callback is one registered client's push channel. A conn-backed callback
// returns an error once its peer is gone, which gets it pruned.
type Callback = broadcast.Subscriber[*weatherpb.Envelope]

// Hub fans weatherUpdate pushes out to every registered client callback.
type Hub struct {
	subs *broadcast.List[*weatherpb.Envelope]
}

func NewHub() *Hub {
	return &Hub{subs: broadcast.NewList[*weatherpb.Envelope]("service-callbacks")}
}

// Register adds cb. If the table has ever been refreshed, the last update
// is replayed to cb synchronously so a new client starts with the current
// timestamp.
func (h *Hub) Register(cb Callback, lastUpdateMillis int64) {
	if lastUpdateMillis > 0 {
		h.subs.Register(cb, weatherpb.NewWeatherUpdate(util.GenID(), lastUpdateMillis))
		return
	}
	h.subs.Register(cb)
}

// Unregister removes cb.
func (h *Hub) Unregister(cb Callback) {
	h.subs.Unregister(cb)
}

// Len reports the number of registered callbacks.
func (h *Hub) Len() int {
	return h.subs.Len()
}

// BroadcastUpdate pushes onWeatherUpdate(ts) to every registered callback.
func (h *Hub) BroadcastUpdate(timestampMillis int64) {
	logrus.Debugf("broadcasting weather update ts=%d to %d clients", timestampMillis, h.subs.Len())
	h.subs.Broadcast(weatherpb.NewWeatherUpdate(util.GenID(), timestampMillis))
}
