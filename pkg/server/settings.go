package server

import "time"

// Settings holds the server's listener and behavior options.
type Settings struct {
	Address              string
	Port                 int
	Transport            string // "udp" or "tcp"
	TCPReadTimeout       time.Duration
	TCPIdleTimeout       time.Duration
	WorkerCount          int
	UDPMaxMessageBytes   int
	CaseSensitiveDefault bool
}

// DefaultSettings returns the framework defaults: UDP on localhost:9953,
// one worker, classic 512-byte UDP replies.
func DefaultSettings() Settings {
	return Settings{
		Address:            "localhost",
		Port:               9953,
		Transport:          "udp",
		TCPReadTimeout:     5 * time.Second,
		TCPIdleTimeout:     30 * time.Second,
		WorkerCount:        1,
		UDPMaxMessageBytes: 512,
	}
}
