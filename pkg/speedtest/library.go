package speedtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// LibraryRunner measures in-process. No shareable result ID comes back, so
// the link bridge keeps the last CLI link instead when this backend is used.
type LibraryRunner struct {
	// NThread caps concurrent test connections.
	NThread int
}

func NewLibraryRunner() *LibraryRunner { return &LibraryRunner{NThread: 4} }

func (r *LibraryRunner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stc := st.New()
	if r.NThread > 0 {
		stc.SetNThread(r.NThread)
	}
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	srv := servers[0]

	if err := srv.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("latency test: %w", err)
	}
	if err := srv.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := srv.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	return &Result{
		Timestamp:    time.Now(),
		DownloadMbps: srv.DLSpeed.Mbps(),
		UploadMbps:   srv.ULSpeed.Mbps(),
		PingMs:       float64(srv.Latency.Milliseconds()),
		ISP:          user.Isp,
		ServerName:   srv.Sponsor,
	}, nil
}
