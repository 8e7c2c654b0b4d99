// Package server implements the HTTP and WebSocket API surface of the
// worklist service
package server
