package speedtest

import (
	"math"
	"testing"
)

func TestResultLink(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		id   string
		want string
	}{
		{"uuid", "0fa52cbd-161c-4bbe-9749-636572d0ed26", "https://www.speedtest.net/result/c/0fa52cbd-161c-4bbe-9749-636572d0ed26"},
		{"legacy numeric", "8613197194", "https://www.speedtest.net/result/8613197194.png"},
		{"empty", "", ""},
		{"garbage", "not-an-id", ""},
		{"padded uuid", "  0fa52cbd-161c-4bbe-9749-636572d0ed26 ", "https://www.speedtest.net/result/c/0fa52cbd-161c-4bbe-9749-636572d0ed26"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ResultLink(tc.id); got != tc.want {
				t.Fatalf("ResultLink(%q) = %q, want %q", tc.id, got, tc.want)
			}
		})
	}
}

func TestJoinCommand(t *testing.T) {
	t.Parallel()
	if got := JoinCommand("https://www.speedtest.net/result/c/abc"); got != "!queue https://www.speedtest.net/result/c/abc" {
		t.Fatalf("JoinCommand = %q", got)
	}
	if got := JoinCommand(""); got != "!queue" {
		t.Fatalf("JoinCommand empty = %q", got)
	}
}

func TestParseCLIOutput(t *testing.T) {
	t.Parallel()
	out := []byte(`{"type":"testStart","timestamp":"2025-06-01T12:00:00Z"}
{"type":"result","ping":{"latency":12.5},"download":{"bandwidth":11875000},"upload":{"bandwidth":2437500},"isp":"ExampleNet","server":{"name":"Example City"},"result":{"id":"0fa52cbd-161c-4bbe-9749-636572d0ed26"}}`)

	res, err := parseCLIOutput(out)
	if err != nil {
		t.Fatalf("parseCLIOutput: %v", err)
	}
	if math.Abs(res.DownloadMbps-95.0) > 0.01 {
		t.Fatalf("download = %v Mbps, want 95", res.DownloadMbps)
	}
	if math.Abs(res.UploadMbps-19.5) > 0.01 {
		t.Fatalf("upload = %v Mbps, want 19.5", res.UploadMbps)
	}
	if res.PingMs != 12.5 {
		t.Fatalf("ping = %v", res.PingMs)
	}
	if res.ID != "0fa52cbd-161c-4bbe-9749-636572d0ed26" {
		t.Fatalf("id = %q", res.ID)
	}
}

func TestParseCLIOutputErrors(t *testing.T) {
	t.Parallel()
	if _, err := parseCLIOutput([]byte("")); err == nil {
		t.Fatal("empty output parsed")
	}
	if _, err := parseCLIOutput([]byte(`{"type":"result","error":"Cannot open socket"}`)); err == nil {
		t.Fatal("error payload parsed")
	}
	if _, err := parseCLIOutput([]byte(`{"type":"download"}`)); err == nil {
		t.Fatal("progress-only output parsed")
	}
	if _, err := parseCLIOutput([]byte("not json")); err == nil {
		t.Fatal("non-json parsed")
	}
}
