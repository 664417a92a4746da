package engine

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llmd/internal/config"
)

func TestIsHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	s := NewSupervisor(config.EngineConfig{}, zerolog.Nop())
	if !s.isHealthy(healthy.URL, time.Second) {
		t.Error("expected healthy")
	}
	if s.isHealthy(unhealthy.URL, time.Second) {
		t.Error("expected unhealthy on 503")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	if s.isHealthy(down.URL, time.Second) {
		t.Error("expected unhealthy on closed server")
	}
}

func TestLookupUnknown(t *testing.T) {
	s := NewSupervisor(config.EngineConfig{}, zerolog.Nop())
	if _, ok := s.Lookup("nope"); ok {
		t.Error("expected no process")
	}
}

func TestStopUnknownIsNoop(t *testing.T) {
	s := NewSupervisor(config.EngineConfig{}, zerolog.Nop())
	if err := s.Stop("nope"); err != nil {
		t.Errorf("stop unknown: %v", err)
	}
}

func TestPickFreePort(t *testing.T) {
	port, err := pickFreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("pickFreePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("port out of range: %d", port)
	}
}

func TestPickPortInRange(t *testing.T) {
	// Occupy one port and ask for a range starting at it; the next free
	// port in range must come back.
	base, err := pickFreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("pickFreePort: %v", err)
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base))
	if err != nil {
		t.Skipf("port %d raced away: %v", base, err)
	}
	defer l.Close()

	port, err := pickPortInRange("127.0.0.1", base, base+20)
	if err != nil {
		t.Fatalf("pickPortInRange: %v", err)
	}
	if port == base {
		t.Fatalf("returned occupied port %d", base)
	}
	if port < base || port > base+20 {
		t.Fatalf("port %d outside range", port)
	}
}

func TestPickPortInRangeExhausted(t *testing.T) {
	base, err := pickFreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("pickFreePort: %v", err)
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base))
	if err != nil {
		t.Skipf("port %d raced away: %v", base, err)
	}
	defer l.Close()

	if _, err := pickPortInRange("127.0.0.1", base, base); err == nil {
		t.Fatal("expected error for fully occupied range")
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := newTailBuffer(10)
	tb.Write([]byte("0123456789"))
	tb.Write([]byte("abcdef"))
	got := tb.String()
	if len(got) != 10 {
		t.Fatalf("len=%d want 10", len(got))
	}
	if !strings.HasSuffix(got, "abcdef") {
		t.Fatalf("tail lost: %q", got)
	}
}

func TestTailBufferSmallWrites(t *testing.T) {
	tb := newTailBuffer(4)
	for i := 0; i < 8; i++ {
		tb.Write([]byte{byte('a' + i)})
	}
	if got := tb.String(); got != "efgh" {
		t.Fatalf("got %q want %q", got, "efgh")
	}
}
