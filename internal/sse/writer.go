// ABOUTME: Server side of the SSE framing used by the development chat server
// ABOUTME: Writes event/data lines and flushes after each frame when possible

package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// WriteFrame writes one frame. Multi-line data is split across data lines so
// a Parser reassembles it unchanged. If w is an http.Flusher it is flushed.
func WriteFrame(w io.Writer, f Frame) error {
	var b strings.Builder
	if f.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", f.Event)
	}
	for line := range strings.SplitSeq(f.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing sse frame: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// WriteComment writes a comment line, which clients ignore. Useful as a
// keepalive.
func WriteComment(w io.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("writing sse comment: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
