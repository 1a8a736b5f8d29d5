package dispatch

import "time"

// Event describes one finished tool call.
type Event struct {
	Tool    string    `json:"tool"`
	Address string    `json:"address,omitempty"`
	Success bool      `json:"success"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}
