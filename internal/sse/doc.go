// Package sse implements the text/event-stream framing used by the chat
// stream endpoint.
//
// The Parser is incremental: it accepts arbitrarily sized chunks exactly as
// they arrive from an HTTP response body, carries incomplete lines across
// calls and yields one Frame per blank-line-terminated event. WriteFrame is
// the producing side, used by the development server.
package sse
