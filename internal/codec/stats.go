package codec

import "sync"

// StreamStats tracks per-direction frame counters for one session, mirroring
// the counters the receiver is required to maintain (§3 Stats, §4.1 stream
// property).
type StreamStats struct {
	mu sync.Mutex

	FramesSent        uint64
	FramesReceived    uint64
	KeyframesSent     uint64
	KeyframesReceived uint64
	BytesSent         uint64
	BytesReceived     uint64
	DecodeErrors      uint64
	ChecksumErrors    uint64

	lastSequence uint32
	haveSequence bool
	MissedFrames uint64
}

// RecordSent updates sender-side counters after a successful Encode.
func (s *StreamStats) RecordSent(h Header, wireLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesSent++
	s.BytesSent += uint64(wireLen)
	if h.IsKeyframe() {
		s.KeyframesSent++
	}
}

// RecordReceived updates receiver-side counters and the sequence-gap
// tracker. Returns false if the frame is out-of-order (sequence <=
// last_sequence) and should be dropped silently per §4.1.
func (s *StreamStats) RecordReceived(h Header, wireLen int) (accept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveSequence && h.Sequence <= s.lastSequence {
		return false
	}

	if s.haveSequence && h.Sequence > s.lastSequence+1 {
		s.MissedFrames += uint64(h.Sequence - s.lastSequence - 1)
	}
	s.lastSequence = h.Sequence
	s.haveSequence = true

	s.FramesReceived++
	s.BytesReceived += uint64(wireLen)
	if h.IsKeyframe() {
		s.KeyframesReceived++
	}
	return true
}

func (s *StreamStats) RecordDecodeError() {
	s.mu.Lock()
	s.DecodeErrors++
	s.mu.Unlock()
}

func (s *StreamStats) RecordChecksumError() {
	s.mu.Lock()
	s.ChecksumErrors++
	s.mu.Unlock()
}

// LastSequence returns the highest accepted sequence number seen so far.
func (s *StreamStats) LastSequence() (seq uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSequence, s.haveSequence
}

// Snapshot is a point-in-time copy of the counters, safe to read
// concurrently with further recording.
type Snapshot struct {
	FramesSent, FramesReceived       uint64
	KeyframesSent, KeyframesReceived uint64
	BytesSent, BytesReceived         uint64
	DecodeErrors, ChecksumErrors     uint64
	MissedFrames                     uint64
}

func (s *StreamStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		FramesSent:        s.FramesSent,
		FramesReceived:     s.FramesReceived,
		KeyframesSent:      s.KeyframesSent,
		KeyframesReceived:  s.KeyframesReceived,
		BytesSent:          s.BytesSent,
		BytesReceived:      s.BytesReceived,
		DecodeErrors:       s.DecodeErrors,
		ChecksumErrors:     s.ChecksumErrors,
		MissedFrames:       s.MissedFrames,
	}
}
