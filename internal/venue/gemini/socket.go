package gemini

import (
	"fmt"

	apperrors "arb_engine/pkg/errors"
)

// socketInfo tracks the per-connection sequencing state. Every non-ack
// frame must carry the next socket_sequence; heartbeats additionally
// carry their own counter. Any gap means lost messages and is
// unrecoverable.
type socketInfo struct {
	name         string
	expectedSeq  int64
	heartbeatSeq int64
	lastBeatMs   int64
	sawAnyFrame  bool
}

func newSocketInfo(name string) *socketInfo {
	return &socketInfo{name: name}
}

// checkSequence validates and advances the socket sequence.
func (si *socketInfo) checkSequence(seq int64) error {
	if seq != si.expectedSeq {
		return fmt.Errorf("%w: %s socket_sequence %d, expected %d",
			apperrors.ErrSequenceGap, si.name, seq, si.expectedSeq)
	}
	si.expectedSeq++
	si.sawAnyFrame = true
	return nil
}

// checkHeartbeat validates a heartbeat's independent sequence. A
// heartbeat must never be the frame that opens the stream.
func (si *socketInfo) checkHeartbeat(beat heartbeatMessage) error {
	if beat.SocketSequence == 0 {
		return fmt.Errorf("%w: %s heartbeat opened the stream",
			apperrors.ErrHeartbeatSequence, si.name)
	}
	if beat.Sequence != si.heartbeatSeq {
		return fmt.Errorf("%w: %s heartbeat sequence %d, expected %d",
			apperrors.ErrHeartbeatSequence, si.name, beat.Sequence, si.heartbeatSeq)
	}
	si.heartbeatSeq++
	si.lastBeatMs = beat.TimestampMs
	return nil
}
