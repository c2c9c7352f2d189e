package codec

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sessionID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	h := NewHeader(42, sessionID, CodecH264, QualityHigh, 1920, 1080, 12345678, true)
	payload := []byte{0xFF, 0x00, 0xFF, 0x00}

	wire, err := Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, gotPayload, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Sequence != 42 {
		t.Errorf("sequence = %d, want 42", got.Sequence)
	}
	if got.SessionID != sessionID {
		t.Errorf("session id = %v, want %v", got.SessionID, sessionID)
	}
	if got.Codec != CodecH264 {
		t.Errorf("codec = %v, want H264", got.Codec)
	}
	if got.Quality != QualityHigh {
		t.Errorf("quality = %v, want High", got.Quality)
	}
	if got.Width != 1920 || got.Height != 1080 {
		t.Errorf("dims = %dx%d, want 1920x1080", got.Width, got.Height)
	}
	if got.TimestampUs != 12345678 {
		t.Errorf("timestamp = %d, want 12345678", got.TimestampUs)
	}
	if !got.IsKeyframe() {
		t.Error("expected FLAG_KEYFRAME set")
	}
	if !got.IsCompressed() {
		t.Error("expected FLAG_COMPRESSED set for H264")
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("payload = %v, want %v", gotPayload, payload)
	}
}

func TestDecodeChecksumTamper(t *testing.T) {
	sessionID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	h := NewHeader(42, sessionID, CodecH264, QualityHigh, 1920, 1080, 12345678, true)
	payload := []byte{0xFF, 0x00, 0xFF, 0x00}

	wire, err := Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	wire[len(wire)-1] ^= 0xFF // flip the last payload byte

	_, _, err = Decode(wire)
	if err == nil {
		t.Fatal("expected checksum-mismatch error, got nil")
	}
	perr, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
	if perr.Kind != "checksum-mismatch" {
		t.Errorf("kind = %q, want checksum-mismatch", perr.Kind)
	}
}

func TestDecodeSingleBitFlipAnywhere(t *testing.T) {
	sessionID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	h := NewHeader(1, sessionID, CodecRaw, QualityMedium, 64, 64, 1, true)
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire, err := Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for i := 0; i < len(wire); i++ {
		for bit := 0; bit < 8; bit++ {
			// Skip reserved bytes: they're not part of any validated field,
			// so a flip there is legitimately a no-op.
			if i == 46 || i == 47 {
				continue
			}
			dup := append([]byte(nil), wire...)
			dup[i] ^= 1 << bit
			if _, _, err := Decode(dup); err == nil {
				t.Fatalf("byte %d bit %d: expected an error, decode succeeded", i, bit)
			}
		}
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	wire := make([]byte, HeaderSize)
	_, _, err := Decode(wire)
	if err == nil {
		t.Fatal("expected invalid-magic error")
	}
	if err.(*ProtocolError).Kind != "invalid-magic" {
		t.Errorf("kind = %q, want invalid-magic", err.(*ProtocolError).Kind)
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	sessionID := [8]byte{}
	h := NewHeader(1, sessionID, CodecRaw, QualityMedium, 1, 1, 1, true)
	wire, _ := Encode(h, []byte{1, 2, 3})
	wire = wire[:len(wire)-1] // truncate

	_, _, err := Decode(wire)
	if err == nil || err.(*ProtocolError).Kind != "size-mismatch" {
		t.Fatalf("expected size-mismatch, got %v", err)
	}
}

func TestRawEmptyPayloadValid(t *testing.T) {
	sessionID := [8]byte{}
	h := NewHeader(1, sessionID, CodecRaw, QualityMedium, 0, 0, 0, true)
	wire, err := Encode(h, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, payload, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.DataSize != 0 || len(payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(payload))
	}
}

func TestStreamStatsMissedFrames(t *testing.T) {
	var s StreamStats
	sessionID := [8]byte{}

	seqs := []uint32{1, 2, 5, 6}
	for _, seq := range seqs {
		h := NewHeader(seq, sessionID, CodecRaw, QualityMedium, 0, 0, 0, false)
		if !s.RecordReceived(h, HeaderSize) {
			t.Fatalf("seq %d unexpectedly rejected as out of order", seq)
		}
	}

	// Out-of-order/duplicate frame must be dropped silently.
	dup := NewHeader(3, sessionID, CodecRaw, QualityMedium, 0, 0, 0, false)
	if s.RecordReceived(dup, HeaderSize) {
		t.Fatal("expected stale sequence 3 to be rejected")
	}

	snap := s.Snapshot()
	if snap.FramesReceived != 4 {
		t.Errorf("frames received = %d, want 4", snap.FramesReceived)
	}
	// Gap 2->5 misses 3,4; that's the only gap.
	if snap.MissedFrames != 2 {
		t.Errorf("missed frames = %d, want 2", snap.MissedFrames)
	}
}
