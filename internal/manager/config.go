package manager

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultMaxInflight   = 4
	defaultDrainTimeout  = 30 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Models       ModelSource
	Engines      EngineRunner
	BudgetMB     int
	MarginMB     int
	DefaultModel string
	// Admission
	MaxQueueDepth int
	MaxWait       time.Duration
	MaxInflight   int
	DrainTimeout  time.Duration
	Logger        zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:        StateReady,
		models:       cfg.Models,
		engines:      cfg.Engines,
		budgetMB:     cfg.BudgetMB,
		marginMB:     cfg.MarginMB,
		defaultModel: cfg.DefaultModel,
		instances:    make(map[string]*Instance),
		publisher:    noopPublisher{},
		log:          cfg.Logger,
		// Timeout=0: generation can legitimately run for minutes.
		httpClient: &http.Client{Timeout: 0},
	}
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.MaxInflight <= 0 {
		m.maxInflight = defaultMaxInflight
	} else {
		m.maxInflight = cfg.MaxInflight
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	m.startTime = time.Now()
	return m
}
