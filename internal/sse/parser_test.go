// ABOUTME: Tests for the incremental SSE parser
// ABOUTME: Covers chunk boundary independence, line endings, ignored fields and size limits

package sse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "data: {\"type\":\"start\",\"message_id\":\"m1\"}\n\n" +
	": keepalive\n\n" +
	"event: token\n" +
	"id: 7\n" +
	"data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n" +
	"data: {\"type\":\"token\",\"content\":\"lo\"}\r\n\r\n" +
	"retry: 1000\n\n" +
	"data: {\"type\":\"done\",\"message_id\":\"m1\",\"content\":\"Hello\"}\n\n"

func TestParser_WholeStream(t *testing.T) {
	p := NewParser()
	frames := p.Feed([]byte(sampleStream))

	require.Len(t, frames, 4)
	assert.Equal(t, `{"type":"start","message_id":"m1"}`, frames[0].Data)
	assert.Equal(t, "token", frames[1].Event)
	assert.Equal(t, `{"type":"token","content":"Hel"}`, frames[1].Data)
	assert.Equal(t, `{"type":"token","content":"lo"}`, frames[2].Data)
	assert.Equal(t, "", frames[2].Event)
	assert.Equal(t, `{"type":"done","message_id":"m1","content":"Hello"}`, frames[3].Data)
	assert.Equal(t, 0, p.Close())
}

func TestParser_ChunkBoundaryIndependence(t *testing.T) {
	want := NewParser().Feed([]byte(sampleStream))

	for size := 1; size <= len(sampleStream); size++ {
		p := NewParser()
		var got []Frame
		for start := 0; start < len(sampleStream); start += size {
			end := min(start+size, len(sampleStream))
			got = append(got, p.Feed([]byte(sampleStream[start:end]))...)
		}
		require.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestParser_SplitAtEveryOffset(t *testing.T) {
	want := NewParser().Feed([]byte(sampleStream))

	for cut := 0; cut <= len(sampleStream); cut++ {
		p := NewParser()
		got := p.Feed([]byte(sampleStream[:cut]))
		got = append(got, p.Feed([]byte(sampleStream[cut:]))...)
		require.Equal(t, want, got, "cut at %d", cut)
	}
}

func TestParser_MultipleDataLinesJoined(t *testing.T) {
	p := NewParser()
	frames := p.Feed([]byte("data: first\ndata:second\ndata: third\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "first\nsecond\nthird", frames[0].Data)
}

func TestParser_EmptyPayloadDropped(t *testing.T) {
	p := NewParser()
	frames := p.Feed([]byte("data:\n\nevent: ping\n\n\n\ndata: x\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "x", frames[0].Data)
}

func TestParser_FieldWithoutColon(t *testing.T) {
	p := NewParser()
	frames := p.Feed([]byte("data\ndata: x\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "\nx", frames[0].Data)
}

func TestParser_CloseDiscardsRemainder(t *testing.T) {
	p := NewParser()
	frames := p.Feed([]byte("data: complete\n\ndata: partial"))
	require.Len(t, frames, 1)

	assert.Equal(t, len("data: partial"), p.Close())
	assert.Empty(t, p.Feed([]byte("\n\n")), "remainder must not resurface after Close")
}

func TestParser_CloseCountsUndispatchedData(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.Feed([]byte("data: abc\n")))
	assert.Equal(t, 3, p.Close())
}

func TestParser_OversizedFrameDropped(t *testing.T) {
	p := &Parser{MaxFrameSize: 16}
	big := strings.Repeat("x", 32)
	frames := p.Feed([]byte("data: " + big + "\n\ndata: ok\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "ok", frames[0].Data)
	assert.Equal(t, 1, p.Dropped())
}

func TestParser_OversizedUnterminatedLineResyncs(t *testing.T) {
	p := &Parser{MaxFrameSize: 16}
	assert.Empty(t, p.Feed([]byte("data: "+strings.Repeat("y", 40))))
	assert.Empty(t, p.Feed([]byte(strings.Repeat("y", 40))))

	frames := p.Feed([]byte("yyy\n\ndata: after\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "after", frames[0].Data)
}

func TestParser_FramesStopsEarlyAndResumes(t *testing.T) {
	p := NewParser()
	var first []Frame
	for f := range p.Frames([]byte("data: a\n\ndata: b\n\ndata: c\n\n")) {
		first = append(first, f)
		break
	}
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].Data)

	rest := p.Feed(nil)
	require.Len(t, rest, 2)
	assert.Equal(t, "b", rest[0].Data)
	assert.Equal(t, "c", rest[1].Data)
}

func TestWriteFrame_RoundTripsThroughParser(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Event: "token", Data: "line one\nline two"}))
	require.NoError(t, WriteComment(&buf, "keepalive"))
	require.NoError(t, WriteFrame(&buf, Frame{Data: "plain"}))

	frames := NewParser().Feed(buf.Bytes())
	require.Len(t, frames, 2)
	assert.Equal(t, Frame{Event: "token", Data: "line one\nline two"}, frames[0])
	assert.Equal(t, Frame{Data: "plain"}, frames[1])
}
