// Package transcription implements the HTTP client for the session-based
// transcription backend. It drives the create/add_chunk/process/end session
// protocol with JSON bodies and base64-encoded float32 PCM audio, and keeps
// per-client request statistics.
package transcription
