// Package capture wires the audio ingest boundary to the session controller.
// It owns the accumulator and a bounded chunk queue, and optionally retains
// captured audio for a WAV dump when a recording stops.
package capture
