package signalr

// recordSeparator is the single byte (ASCII RS, 0x1E) that terminates every
// JSON hub frame on the wire.
const recordSeparator byte = 0x1e

// writeFrame appends the record separator to payload, producing one
// complete frame ready to write to a transport.
func writeFrame(payload []byte) []byte {
	out := make([]byte, len(payload)+1)
	copy(out, payload)
	out[len(payload)] = recordSeparator
	return out
}

// parseFrames splits a buffer of one or more concatenated frames into their
// payloads, stripping the trailing record separator from each. Empty input
// yields an empty, non-nil slice without error. A non-empty buffer that does
// not end in the record separator is rejected with ErrIncompleteFrame: the
// framing layer never reassembles a frame split across input buffers, the
// caller (WebSocket transport) is expected to deliver one complete message
// boundary per call.
func parseFrames(buf []byte) ([][]byte, error) {
	if len(buf) == 0 {
		return [][]byte{}, nil
	}
	if buf[len(buf)-1] != recordSeparator {
		return nil, ErrIncompleteFrame
	}

	frames := make([][]byte, 0, 1)
	start := 0
	for i, b := range buf {
		if b != recordSeparator {
			continue
		}
		if i > start {
			frames = append(frames, buf[start:i])
		}
		start = i + 1
	}
	return frames, nil
}
