// Package frame splits the simulation's byte stream into JSON frames.
//
// The simulation writes one JSON document per line. Reads from the socket
// arrive in arbitrary chunks, so the Decoder buffers any trailing partial
// line until the rest of it shows up.
package frame

import (
	"bytes"
	"encoding/json"

	"github.com/philsphicas/simrelay/internal/protocol"
)

// DefaultMaxFrameSize bounds the length of a single line.
const DefaultMaxFrameSize = 1 << 20

// Reason describes why a line was not emitted as a frame.
type Reason string

const (
	ReasonKeepAlive Reason = "keepalive"
	ReasonMalformed Reason = "malformed"
	ReasonOversize  Reason = "oversize"
)

// Decoder extracts newline-terminated JSON frames from a byte stream.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	// MaxFrameSize is the longest line accepted, whether it arrives whole
	// or in pieces. Zero means DefaultMaxFrameSize.
	MaxFrameSize int

	// OnDrop, if set, is called for every line that is discarded.
	OnDrop func(reason Reason, line []byte)

	buf      []byte
	skipping bool // discarding the remainder of an oversize line
}

// Feed appends p to the buffer and returns every complete frame now
// available, in stream order. Keep-alive lines, empty lines and lines that
// are not valid JSON are skipped.
func (d *Decoder) Feed(p []byte) []json.RawMessage {
	d.buf = append(d.buf, p...)

	var frames []json.RawMessage
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		if d.skipping {
			d.skipping = false
			continue
		}
		if len(line) > d.limit() {
			d.drop(ReasonOversize, line[:min(len(line), 128)])
			continue
		}
		if f, ok := d.decodeLine(line); ok {
			frames = append(frames, f)
		}
	}

	d.trim()
	return frames
}

// Buffered returns the number of bytes waiting for a newline.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any buffered partial line.
func (d *Decoder) Reset() {
	d.buf = nil
	d.skipping = false
}

func (d *Decoder) decodeLine(line []byte) (json.RawMessage, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, false
	}
	if string(line) == protocol.KeepAlive {
		d.drop(ReasonKeepAlive, line)
		return nil, false
	}
	if !json.Valid(line) {
		d.drop(ReasonMalformed, line)
		return nil, false
	}
	// Copy out so the frame does not pin or alias the read buffer.
	return json.RawMessage(bytes.Clone(line)), true
}

func (d *Decoder) limit() int {
	if d.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return d.MaxFrameSize
}

// trim enforces MaxFrameSize on the pending partial line and compacts the
// buffer once everything has been consumed.
func (d *Decoder) trim() {
	if len(d.buf) > d.limit() {
		if !d.skipping {
			d.drop(ReasonOversize, d.buf[:min(len(d.buf), 128)])
		}
		d.skipping = true
		d.buf = nil
		return
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

func (d *Decoder) drop(reason Reason, line []byte) {
	if d.OnDrop != nil {
		d.OnDrop(reason, line)
	}
}
