package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	wire, err := Frame(payload, 1024)
	require.NoError(t, err)

	d := NewDeframer(1024)
	frames := d.Feed(wire)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestFrameRejectsOversize(t *testing.T) {
	_, err := Frame(make([]byte, 10), 5)
	assert.ErrorIs(t, err, ErrOversize)
}

func TestDeframerToleratesArbitraryChopping(t *testing.T) {
	payload := []byte(`{"a":1,"b":"two"}`)
	wire, err := Frame(payload, 1024)
	require.NoError(t, err)

	d := NewDeframer(1024)
	var got [][]byte
	for _, b := range wire {
		got = append(got, d.Feed([]byte{b})...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestDeframerResyncsAfterGarbage(t *testing.T) {
	payload := []byte(`{"ok":true}`)
	wire, err := Frame(payload, 1024)
	require.NoError(t, err)

	garbage := []byte("not a frame at all, just noise [[ [ ]] ")
	stream := append(append([]byte{}, garbage...), wire...)

	d := NewDeframer(1024)
	frames := d.Feed(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestDeframerResyncsAfterOversizeFrame(t *testing.T) {
	big, err := Frame(make([]byte, 100), 1000)
	require.NoError(t, err)
	small := []byte(`{"after":"oversize"}`)
	wireSmall, err := Frame(small, 1000)
	require.NoError(t, err)

	d := NewDeframer(50) // big's declared length (100) exceeds this limit
	stream := append(append([]byte{}, big...), wireSmall...)
	frames := d.Feed(stream)

	require.Len(t, frames, 1)
	assert.Equal(t, small, frames[0])
}

func TestDeframerHandlesOverlappingOpens(t *testing.T) {
	payload := []byte(`{"x":1}`)
	wire, err := Frame(payload, 1024)
	require.NoError(t, err)
	// "[[[[" then a valid frame: the first triple's length field starts
	// with '[' which is not a valid alphabet character, forcing a resync.
	stream := append([]byte("["), wire...)

	d := NewDeframer(1024)
	frames := d.Feed(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestDeframerMultipleFramesInOneFeed(t *testing.T) {
	p1 := []byte(`{"n":1}`)
	p2 := []byte(`{"n":2}`)
	w1, _ := Frame(p1, 1024)
	w2, _ := Frame(p2, 1024)

	d := NewDeframer(1024)
	frames := d.Feed(append(append([]byte{}, w1...), w2...))
	require.Len(t, frames, 2)
	assert.Equal(t, p1, frames[0])
	assert.Equal(t, p2, frames[1])
}
