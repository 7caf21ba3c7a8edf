// ABOUTME: Incremental Server-Sent Events parser for chunked response bodies
// ABOUTME: Carries partial lines across Feed calls and yields one Frame per event

package sse

import (
	"bytes"
	"iter"
	"strings"
)

// DefaultMaxFrameSize bounds the accumulated data of a single frame.
const DefaultMaxFrameSize = 1 << 20

// Frame is one dispatched event: the optional event name and the joined
// data lines.
type Frame struct {
	Event string
	Data  string
}

// Parser turns a byte stream into frames. It is not safe for concurrent
// use; one goroutine reads the body and feeds the parser.
type Parser struct {
	// MaxFrameSize caps the data carried by one frame. Frames that grow past
	// it are dropped and the parser resynchronises at the next blank line.
	MaxFrameSize int

	buf []byte
	off int

	event     string
	data      strings.Builder
	dataLines int
	oversize  bool
	skipLine  bool

	dropped int
}

// NewParser returns a parser with the default frame size limit.
func NewParser() *Parser {
	return &Parser{MaxFrameSize: DefaultMaxFrameSize}
}

// Feed consumes a chunk and returns every frame it completes. Frames with an
// empty payload are dropped.
func (p *Parser) Feed(chunk []byte) []Frame {
	var frames []Frame
	for f := range p.Frames(chunk) {
		frames = append(frames, f)
	}
	return frames
}

// Frames consumes a chunk and yields completed frames lazily. Lines the
// consumer did not reach when it stopped iterating stay buffered and are
// processed by the next call.
func (p *Parser) Frames(chunk []byte) iter.Seq[Frame] {
	p.buf = append(p.buf, chunk...)
	return func(yield func(Frame) bool) {
		defer p.compact()
		for {
			f, ok := p.next()
			if !ok {
				return
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Close discards any unterminated remainder and returns the number of bytes
// thrown away. The parser can be reused afterwards.
func (p *Parser) Close() int {
	n := len(p.buf) - p.off + p.data.Len()
	p.buf = p.buf[:0]
	p.off = 0
	p.resetFrame()
	p.skipLine = false
	return n
}

// Dropped reports how many frames were discarded for exceeding MaxFrameSize.
func (p *Parser) Dropped() int {
	return p.dropped
}

func (p *Parser) next() (Frame, bool) {
	for {
		i := bytes.IndexByte(p.buf[p.off:], '\n')
		if i < 0 {
			return Frame{}, false
		}
		line := p.buf[p.off : p.off+i]
		p.off += i + 1
		if p.skipLine {
			// the head of this line was discarded with an oversized buffer
			p.skipLine = false
			continue
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if f, ok := p.processLine(line); ok {
			return f, true
		}
	}
}

func (p *Parser) processLine(line []byte) (Frame, bool) {
	if len(line) == 0 {
		return p.dispatch()
	}
	if line[0] == ':' {
		return Frame{}, false
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], line[i+1:]
		value = bytes.TrimPrefix(value, []byte{' '})
	}

	switch string(field) {
	case "data":
		if p.oversize {
			return Frame{}, false
		}
		if p.dataLines > 0 {
			p.data.WriteByte('\n')
		}
		p.data.Write(value)
		p.dataLines++
		if p.data.Len() > p.limit() {
			p.oversize = true
			p.data.Reset()
		}
	case "event":
		p.event = string(value)
	}
	// id, retry and unknown fields carry nothing the chat stream uses
	return Frame{}, false
}

func (p *Parser) dispatch() (Frame, bool) {
	defer p.resetFrame()
	if p.oversize {
		p.dropped++
		return Frame{}, false
	}
	if p.data.Len() == 0 {
		return Frame{}, false
	}
	return Frame{Event: p.event, Data: p.data.String()}, true
}

func (p *Parser) resetFrame() {
	p.event = ""
	p.data.Reset()
	p.dataLines = 0
	p.oversize = false
}

func (p *Parser) limit() int {
	if p.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return p.MaxFrameSize
}

// compact moves the unconsumed tail to the front of the buffer. A tail that
// already exceeds the frame limit without a newline can never produce a
// valid frame, so it is dropped and the rest of that line skipped.
func (p *Parser) compact() {
	rest := len(p.buf) - p.off
	if rest > p.limit() && bytes.IndexByte(p.buf[p.off:], '\n') < 0 {
		p.buf = p.buf[:0]
		p.off = 0
		p.oversize = true
		p.data.Reset()
		p.skipLine = true
		return
	}
	if p.off == 0 {
		return
	}
	copy(p.buf, p.buf[p.off:])
	p.buf = p.buf[:rest]
	p.off = 0
}
