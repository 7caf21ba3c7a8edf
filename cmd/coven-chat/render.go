// ABOUTME: Terminal renderer for a streaming turn
// ABOUTME: Prints content deltas from snapshots plus thinking, search and failure markers

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/turn"
)

// renderer implements client.Observer for one turn.
type renderer struct {
	out io.Writer

	mu        sync.Mutex
	shown     string
	thinking  bool
	searching bool
	moderated bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) OnStarted(_ client.StartInfo, moderated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if moderated {
		r.moderated = true
		fmt.Fprintln(r.out, color.YellowString("[message blocked by moderation]"))
	}
}

func (r *renderer) OnUpdate(s turn.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.IsThinking && !r.thinking {
		r.thinking = true
		fmt.Fprintln(r.out, color.HiBlackString("thinking..."))
	}
	if s.Searching && !r.searching {
		r.searching = true
		fmt.Fprintln(r.out, color.HiBlackString("searching..."))
	}

	switch {
	case s.Content == r.shown:
	case strings.HasPrefix(s.Content, r.shown):
		fmt.Fprint(r.out, s.Content[len(r.shown):])
		r.shown = s.Content
	default:
		// the final content differs from what streamed; show it whole
		if r.shown != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprint(r.out, s.Content)
		r.shown = s.Content
	}
}

// finish prints the end-of-turn line for out.
func (r *renderer) finish(out client.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shown != "" {
		fmt.Fprintln(r.out)
	}
	if out.Err == nil {
		return
	}
	if out.Err.Kind == client.KindCancelled {
		fmt.Fprintln(r.out, color.HiBlackString("[cancelled]"))
		return
	}

	msg := out.Snapshot.ErrorDetail
	if msg == "" {
		msg = client.UserMessage(out.Err.Kind)
	}
	line := "[error] " + msg
	if out.Err.Retryable() {
		line += " (/retry to try again)"
	}
	fmt.Fprintln(r.out, color.RedString(line))
}
