package speedtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultCLITimeout = 2 * time.Minute

// CLIRunner shells out to the official Ookla CLI. It is the only backend
// that yields a shareable result ID.
type CLIRunner struct {
	Path    string
	Timeout time.Duration
}

func NewCLIRunner(path string, timeout time.Duration) *CLIRunner {
	if path == "" {
		path = "speedtest"
	}
	if timeout <= 0 {
		timeout = DefaultCLITimeout
	}
	return &CLIRunner{Path: path, Timeout: timeout}
}

// cliOutput matches the Ookla CLI's --format=json payload; bandwidth is in
// bytes per second.
type cliOutput struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Ping  struct {
		Latency float64 `json:"latency"`
	} `json:"ping"`
	Download struct {
		Bandwidth float64 `json:"bandwidth"`
	} `json:"download"`
	Upload struct {
		Bandwidth float64 `json:"bandwidth"`
	} `json:"upload"`
	ISP    string `json:"isp"`
	Server struct {
		Name string `json:"name"`
	} `json:"server"`
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

func (r *CLIRunner) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Path,
		"--format=json", "--accept-license", "--accept-gdpr")
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("speedtest cli: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("speedtest cli: %w", err)
	}
	return parseCLIOutput(out)
}

func parseCLIOutput(out []byte) (*Result, error) {
	// The CLI may emit progress objects line by line before the final
	// result; the last non-empty line carries type "result".
	var last []byte
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) != "" {
			last = []byte(line)
		}
	}
	if len(last) == 0 {
		return nil, fmt.Errorf("speedtest cli: empty output")
	}

	var payload cliOutput
	if err := json.Unmarshal(last, &payload); err != nil {
		return nil, fmt.Errorf("speedtest cli: parse output: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("speedtest cli: %s", payload.Error)
	}
	if payload.Type != "" && payload.Type != "result" {
		return nil, fmt.Errorf("speedtest cli: no final result (last type %q)", payload.Type)
	}

	return &Result{
		Timestamp:    time.Now(),
		DownloadMbps: payload.Download.Bandwidth * 8 / 1e6,
		UploadMbps:   payload.Upload.Bandwidth * 8 / 1e6,
		PingMs:       payload.Ping.Latency,
		ID:           payload.Result.ID,
		ISP:          payload.ISP,
		ServerName:   payload.Server.Name,
	}, nil
}
