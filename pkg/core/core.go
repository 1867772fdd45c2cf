// Package core is the control surface of the service: it aggregates the
// scheduler, executor, history store and progress oracle behind the
// operations the REST layer binds to.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/history"
	"github.com/marmos91/nasscan/pkg/scan"
	"github.com/marmos91/nasscan/pkg/scheduler"
)

// ErrScanNotFound is returned when no configured scan matches the given
// slug or name.
var ErrScanNotFound = errors.New("scan not found")

// Core wires the service components together.
type Core struct {
	store     *history.Store
	executor  *scan.Executor
	scheduler *scheduler.Scheduler
	oracle    *scan.ProgressOracle

	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	// baseCtx is the service lifetime; manually triggered scans run
	// under it, not under the HTTP request that started them.
	baseCtx context.Context
}

// New creates the core around an already-loaded configuration.
func New(cfg *config.Config, configPath string, store *history.Store, executor *scan.Executor, sched *scheduler.Scheduler) *Core {
	return &Core{
		store:      store,
		executor:   executor,
		scheduler:  sched,
		oracle:     scan.NewProgressOracle(store),
		configPath: configPath,
		cfg:        cfg,
		baseCtx:    context.Background(),
	}
}

// Start binds the service lifetime used for manually triggered scans.
func (c *Core) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
}

// LoadScans re-reads the configuration file and returns the scan
// descriptors. The scheduler calls this on every reload tick; the
// refreshed config also becomes the one served by ListScans.
func (c *Core) LoadScans() ([]config.ScanConfig, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()

	return cfg.Scans, nil
}

func (c *Core) scans() []config.ScanConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Scans
}

// findScan resolves a scan by slug first, then by name
// (case-insensitive).
func (c *Core) findScan(slugOrName string) (*config.ScanConfig, error) {
	scans := c.scans()
	for i := range scans {
		if scans[i].Slug == slugOrName {
			return &scans[i], nil
		}
	}
	for i := range scans {
		if strings.EqualFold(scans[i].Name, slugOrName) {
			return &scans[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrScanNotFound, slugOrName)
}
