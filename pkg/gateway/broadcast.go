package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Broadcaster fans events out to every authenticated client. Each event
// is stamped with a monotonically increasing sequence number so clients
// can order frames and detect gaps after reconnecting.
type Broadcaster struct {
	clients *registry
	log     zerolog.Logger
	seq     atomic.Int64
}

func newBroadcaster(clients *registry, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{clients: clients, log: log}
}

// Broadcast sends a bare named event with an arbitrary payload.
func (b *Broadcaster) Broadcast(event string, data interface{}) {
	b.Send(Event{Event: event, Data: data})
}

// Send stamps and delivers a fully specified event. Zero Seq and
// Timestamp fields are filled in; callers building multi-frame streams
// should leave Seq at zero so ordering stays server-wide.
func (b *Broadcaster) Send(evt Event) {
	evt.Type = "event"
	if evt.Seq == 0 {
		evt.Seq = b.seq.Add(1)
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Error().Err(err).Str("event", evt.Event).Msg("marshal event")
		return
	}

	targets := b.clients.authenticated()
	if len(targets) == 0 {
		return
	}

	delivered := 0
	for _, c := range targets {
		if err := c.sendRaw(data); err != nil {
			// A dead connection is reaped by its own read loop; the
			// broadcaster just skips it.
			b.log.Warn().Err(err).Str("client_id", c.id).Str("event", evt.Event).Msg("broadcast write failed")
			continue
		}
		delivered++
	}

	b.log.Debug().
		Str("event", evt.Event).
		Str("stream", string(evt.Stream)).
		Int64("seq", evt.Seq).
		Int("delivered", delivered).
		Msg("event broadcast")
}

// Seq returns the last sequence number issued.
func (b *Broadcaster) Seq() int64 {
	return b.seq.Load()
}
