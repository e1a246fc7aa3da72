// Package server exposes the agent's HTTP surface: the JSON recording and
// history API, the WebSocket audio ingest endpoint, and monitoring endpoints
// (health, config, stats, Prometheus metrics).
package server
