package model

import "time"

// RunSnapshot is the live view of a run in progress inside the daemon.
type RunSnapshot struct {
	JobName   string    `json:"job_name"`
	Trigger   string    `json:"trigger"`
	StartedAt time.Time `json:"started_at"`
	Percent   int       `json:"percent"`
	Bytes     int64     `json:"bytes"`
	Rate      string    `json:"rate,omitempty"`
	Spinner   bool      `json:"spinner"`
}
