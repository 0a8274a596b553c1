package models

import "time"

// MirroringSession is one recorded connect attempt
type MirroringSession struct {
	ID          string     `json:"id"`
	Serial      string     `json:"serial"`
	Resolution  int        `json:"resolution"`
	Bitrate     int        `json:"bitrate"`
	FPS         int        `json:"fps"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
}
