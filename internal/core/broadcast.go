package core

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/roomrelay/internal/frame"
	"github.com/vovakirdan/roomrelay/internal/metrics"
)

// Broadcaster serializes an event once, frames it once and writes the frame
// to every connection of a snapshot.
type Broadcaster struct {
	codec   frame.Codec
	metrics *metrics.Recorder
}

// NewBroadcaster builds a broadcaster. A nil codec means frame.TextCodec.
func NewBroadcaster(codec frame.Codec, rec *metrics.Recorder) *Broadcaster {
	if codec == nil {
		codec = frame.TextCodec{}
	}
	return &Broadcaster{codec: codec, metrics: rec}
}

// Broadcast delivers v to conns and returns the connections whose write failed.
// Write failures never abort delivery to the rest of the set.
// The error is non-nil only when v cannot be serialized.
func (b *Broadcaster) Broadcast(conns []Conn, event string, v any) ([]Conn, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event, err)
	}
	f := b.codec.Encode(payload)

	var failed []Conn
	for _, conn := range conns {
		if err := conn.WriteFrame(f); err != nil {
			failed = append(failed, conn)
		}
	}

	b.metrics.Broadcast(event, len(conns)-len(failed), len(failed))
	return failed, nil
}
