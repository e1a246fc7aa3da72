// Package session implements the streaming session controller. It owns the
// remote session lifecycle (create, chunk transmission, periodic process
// polls, end), reconciles committed and uncommitted segment lists into local
// display state, and persists the committed text once per completed session.
package session
