package engine

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"llmd/internal/config"
	"llmd/pkg/types"
)

// Proc describes one running engine process.
type Proc struct {
	BaseURL string
	PID     int
	Port    int
}

// Supervisor spawns and tracks one engine process per model id, waiting
// for the OpenAI surface to come up before handing the base URL back.
type Supervisor struct {
	cfg        config.EngineConfig
	log        zerolog.Logger
	mu         sync.Mutex
	procs      map[string]*procState
	httpClient *http.Client
}

type procState struct {
	cmd     *exec.Cmd
	baseURL string
	port    int
	pid     int
	ready   bool
	stderr  *tailBuffer
	waitCh  chan error
}

// NewSupervisor constructs a supervisor for the given engine settings.
func NewSupervisor(cfg config.EngineConfig, log zerolog.Logger) *Supervisor {
	if strings.TrimSpace(cfg.Bin) == "" {
		cfg.Bin = "vllm"
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	// Timeout=0: all calls carry context deadlines; streams must not be cut.
	return &Supervisor{
		cfg:        cfg,
		log:        log,
		procs:      make(map[string]*procState),
		httpClient: &http.Client{Timeout: 0},
	}
}

// Ensure returns a healthy engine for the model, spawning one if needed.
// An existing unhealthy process is stopped and replaced.
func (s *Supervisor) Ensure(ctx context.Context, m types.Model) (Proc, error) {
	s.mu.Lock()
	if p := s.procs[m.ID]; p != nil {
		base := p.baseURL
		s.mu.Unlock()
		if s.isHealthy(base, time.Second) {
			s.markReady(m.ID)
			return Proc{BaseURL: base, PID: p.pid, Port: p.port}, nil
		}
		_ = s.Stop(m.ID)
		s.mu.Lock()
	}
	s.mu.Unlock()

	if err := Preflight(m); err != nil {
		return Proc{}, err
	}
	return s.spawn(ctx, m)
}

// Lookup returns the tracked process for a model, if any.
func (s *Supervisor) Lookup(modelID string) (Proc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[modelID]; p != nil {
		return Proc{BaseURL: p.baseURL, PID: p.pid, Port: p.port}, true
	}
	return Proc{}, false
}

func (s *Supervisor) spawn(ctx context.Context, m types.Model) (Proc, error) {
	host := s.cfg.Host
	var port int
	var err error
	if s.cfg.PortStart > 0 && s.cfg.PortEnd >= s.cfg.PortStart {
		port, err = pickPortInRange(host, s.cfg.PortStart, s.cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return Proc{}, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	args := BuildArgs(s.cfg, m, host, port)
	cmd := exec.Command(s.cfg.Bin, args...)
	tail := newTailBuffer(8192)
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return Proc{}, fmt.Errorf("start %s: %w", s.cfg.Bin, err)
	}
	s.log.Info().Str("model", m.ID).Int("pid", cmd.Process.Pid).Int("port", port).Msg("engine spawned")

	st := &procState{cmd: cmd, baseURL: baseURL, port: port, pid: cmd.Process.Pid, stderr: tail, waitCh: make(chan error, 1)}
	s.mu.Lock()
	s.procs[m.ID] = st
	s.mu.Unlock()
	go func() { st.waitCh <- cmd.Wait() }()

	if err := s.awaitReady(ctx, m.ID, st); err != nil {
		return Proc{}, err
	}
	return Proc{BaseURL: baseURL, PID: st.pid, Port: port}, nil
}

// awaitReady polls the OpenAI surface until healthy, failing fast when the
// process exits first. Startup can take minutes while weights load.
func (s *Supervisor) awaitReady(ctx context.Context, modelID string, st *procState) error {
	timeout := s.cfg.StartupTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Stop(modelID)
			return err
		}
		if time.Now().After(deadline) {
			_ = s.Stop(modelID)
			s.log.Error().Str("model", modelID).Int("pid", st.pid).Msg("engine not ready in time")
			return fmt.Errorf("engine not ready in time: %s", st.baseURL)
		}
		select {
		case werr := <-st.waitCh:
			s.mu.Lock()
			delete(s.procs, modelID)
			s.mu.Unlock()
			tail := st.stderr.String()
			if werr != nil {
				return fmt.Errorf("engine exited early: %v; stderr tail: %s", werr, tail)
			}
			return fmt.Errorf("engine exited before ready: %s; stderr tail: %s", st.baseURL, tail)
		default:
		}
		if s.isHealthy(st.baseURL, time.Second) {
			s.markReady(modelID)
			s.log.Info().Str("model", modelID).Str("url", st.baseURL).Msg("engine ready")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// isHealthy checks the engine's /v1/models (vLLM also serves /health, but
// the models route exists on every OpenAI-compatible server).
func (s *Supervisor) isHealthy(baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *Supervisor) markReady(modelID string) {
	s.mu.Lock()
	if p := s.procs[modelID]; p != nil {
		p.ready = true
	}
	s.mu.Unlock()
}

// Stop terminates the engine for modelID: SIGTERM, a short grace period,
// then SIGKILL.
func (s *Supervisor) Stop(modelID string) error {
	s.mu.Lock()
	p := s.procs[modelID]
	delete(s.procs, modelID)
	s.mu.Unlock()
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.waitCh:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.waitCh
	}
	s.log.Info().Str("model", modelID).Int("pid", p.pid).Msg("engine stopped")
	return nil
}

// StopAll terminates every managed engine. Best effort.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.Stop(id)
	}
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", host+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr := l.Addr().String()
	lastColon := strings.LastIndex(addr, ":")
	if lastColon < 0 {
		return 0, fmt.Errorf("unexpected addr: %s", addr)
	}
	return strconv.Atoi(addr[lastColon+1:])
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, p))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// tailBuffer keeps the last n bytes written, for failure diagnostics.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > t.max {
		b := t.buf.Bytes()
		trimmed := make([]byte, t.max)
		copy(trimmed, b[len(b)-t.max:])
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
