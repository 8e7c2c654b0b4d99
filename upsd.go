// Package upsd identifies the worklist service build
package upsd

const (
	Name    = "upsd"
	Version = "1.0.0"
)
