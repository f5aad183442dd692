package models

import "time"

// WOLConfig wakes the intermediary transfer server before a batch.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollAddr      string        // host:port dialled until the server accepts, optional
	Timeout       time.Duration // max time to wait for the server
	PollInterval  time.Duration
	StabilizeWait time.Duration // extra wait once the server answers
}

// WOLResult holds the result of waking the transfer server.
type WOLResult struct {
	PacketSent   bool
	ServerReady  bool
	WaitDuration time.Duration
	Error        error
}
