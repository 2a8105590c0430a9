// Package speedtest runs a bandwidth measurement and turns the result into
// the shareable link the queue bot expects alongside a join request.
package speedtest

import (
	"context"
	"time"
)

// Result is a single measurement. ID is the provider's result identifier
// when the backend exposes one (the CLI does, the library does not).
type Result struct {
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`
	ID           string    `json:"id,omitempty"`
	ISP          string    `json:"isp,omitempty"`
	ServerName   string    `json:"server_name,omitempty"`
}

// Runner executes one measurement.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}
