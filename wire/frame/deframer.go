package frame

import "bytes"

type state int

const (
	scanningOpen state = iota
	scanningLength
	collectingPayload
)

var openMarker = []byte("[[[")

// Deframer turns a byte stream from one connection into discrete message
// payloads. It is single-threaded per connection: Feed must not be called
// concurrently from multiple goroutines on the same Deframer.
type Deframer struct {
	maxMessageSize int
	buf            []byte
	state          state
	lengthChars    []byte
	payloadLen     int
}

// NewDeframer creates a de-framer that rejects any payload longer than
// maxMessageSize.
func NewDeframer(maxMessageSize int) *Deframer {
	return &Deframer{maxMessageSize: maxMessageSize, state: scanningOpen}
}

// SetMaxMessageSize resizes the de-framer's size limit. Resizing upward is
// supported; shrinking below the current limit is a no-op.
func (d *Deframer) SetMaxMessageSize(n int) {
	if n > d.maxMessageSize {
		d.maxMessageSize = n
	}
}

// Feed appends newly-read bytes and returns every complete frame payload
// that can now be extracted, in order. It never returns an error for a
// malformed frame; malformed frames are dropped internally by
// resynchronizing and are simply absent from the returned slice.
func (d *Deframer) Feed(data []byte) [][]byte {
	d.buf = append(d.buf, data...)
	var frames [][]byte
loop:
	for {
		switch d.state {
		case scanningOpen:
			idx := bytes.Index(d.buf, openMarker)
			if idx < 0 {
				// Keep up to len(openMarker)-1 trailing bytes: they might be
				// the start of an open that completes on the next Feed.
				if keep := len(openMarker) - 1; len(d.buf) > keep {
					d.buf = d.buf[len(d.buf)-keep:]
				}
				break loop
			}
			if idx > 0 {
				d.buf = d.buf[idx:]
			}
			d.lengthChars = d.lengthChars[:0]
			d.state = scanningLength
		case scanningLength:
			ok, needMore, reject := d.tryScanLength()
			if needMore {
				break loop
			}
			if reject {
				d.resync()
				continue loop
			}
			if ok {
				d.state = collectingPayload
			}
		case collectingPayload:
			need := d.payloadLen + 2
			if len(d.buf) < need {
				break loop
			}
			if d.buf[d.payloadLen] == ']' && d.buf[d.payloadLen+1] == ']' {
				payload := make([]byte, d.payloadLen)
				copy(payload, d.buf[:d.payloadLen])
				frames = append(frames, payload)
				d.buf = d.buf[need:]
			} else {
				d.resync()
				continue loop
			}
			d.state = scanningOpen
		}
	}
	d.maybeCompact()
	return frames
}

// tryScanLength reads 2-4 private-alphabet characters after the opening
// "[[[" until it finds the closing "]". It reports needMore when the
// buffer runs out before a decision can be made, and reject when the
// length field is invalid (non-alphabet character, more than 4 chars
// before "]", or a decoded length exceeding maxMessageSize).
func (d *Deframer) tryScanLength() (ok, needMore, reject bool) {
	i := len(openMarker) + len(d.lengthChars)
	for {
		if i >= len(d.buf) {
			return false, true, false
		}
		c := d.buf[i]
		if c == ']' {
			if len(d.lengthChars) < minLengthChars {
				return false, false, true
			}
			n, err := decodeLength(string(d.lengthChars))
			if err != nil || n > d.maxMessageSize {
				return false, false, true
			}
			d.payloadLen = n
			d.buf = d.buf[i+1:]
			return true, false, false
		}
		if !isAlphabetChar(c) || len(d.lengthChars) >= maxLengthChars {
			return false, false, true
		}
		d.lengthChars = append(d.lengthChars, c)
		i++
	}
}

// resync abandons the current open attempt and resumes scanning for the
// next "[[[" one byte past where this attempt's open began, so that
// overlapping opens like "[[[[" are still found.
func (d *Deframer) resync() {
	if len(d.buf) > 0 {
		d.buf = d.buf[1:]
	}
	d.lengthChars = d.lengthChars[:0]
	d.state = scanningOpen
}

// maybeCompact reallocates the internal buffer once its unused capacity
// grows past a quarter of the working size, so a connection that scanned
// past a lot of garbage doesn't hold onto an ever-growing array.
func (d *Deframer) maybeCompact() {
	working := d.maxMessageSize * 4
	if working <= 0 {
		working = 1
	}
	if cap(d.buf)-len(d.buf) >= working/4 {
		nb := make([]byte, len(d.buf))
		copy(nb, d.buf)
		d.buf = nb
	}
}
