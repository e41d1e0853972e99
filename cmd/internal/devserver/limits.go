package devserver

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10

	// Max message text length (runes).
	maxMessageChars = 4000
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (messages per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
