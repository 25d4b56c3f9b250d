package webmonitor

import "time"

// Config defines the runtime configuration for the local monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
	// KeepAlive is the idle gap after which SSE streams send a comment line
	KeepAlive   time.Duration
	HistorySize int
}

// DefaultConfig returns the settings used on the device.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 2 * time.Second,
		KeepAlive:      30 * time.Second,
		HistorySize:    8,
	}
}
