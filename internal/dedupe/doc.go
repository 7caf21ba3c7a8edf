// Package dedupe rejects a turn submission that repeats one seen within a
// short window, such as a double-pressed send key.
package dedupe
