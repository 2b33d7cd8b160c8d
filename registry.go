package mssqlgrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrTargetInUse is returned when a panel is re-pointed at an object that
// already has a panel of its own.
var ErrTargetInUse = errors.New("another panel is open on this object")

// PanelConfig carries the defaults applied to every panel of a registry.
type PanelConfig struct {
	PageSize      int
	MaxCellLength int
	Logger        *slog.Logger
}

// Registry tracks live panels by object key, at most one per key. The hosting
// shell owns it; nothing in this package keeps a global one.
type Registry struct {
	cfg PanelConfig

	mu     sync.Mutex
	panels map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg PanelConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !validPageSize(cfg.PageSize) {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxCellLength <= 0 {
		cfg.MaxCellLength = DefaultMaxCellLength
	}
	return &Registry{cfg: cfg, panels: make(map[string]*Controller)}
}

// Open returns the panel for ref, creating it when needed. An existing panel
// is updated with opts instead of being duplicated. Column metadata is loaded
// and the first page queried before Open returns.
func (r *Registry) Open(ctx context.Context, conn Conn, ref TableRef, opts Options) (*Controller, *Panel, error) {
	if conn == nil {
		return nil, nil, fmt.Errorf("opening %s: not connected", ref)
	}
	if ref.Kind == "" {
		ref.Kind = KindTable
	}
	key := ref.Key()

	r.mu.Lock()
	c, existing := r.panels[key]
	if !existing {
		c = newController(r, ref)
		r.panels[key] = c
	}
	r.mu.Unlock()

	if existing {
		r.cfg.Logger.Debug("revealing existing panel", "panel", key)
		p, err := c.UpdateTarget(ctx, conn, ref, opts)
		if errors.Is(err, ErrDisposed) {
			return r.Open(ctx, conn, ref, opts)
		}
		return c, p, err
	}

	r.cfg.Logger.Info("opening panel", "panel", key, "id", c.ID())
	p, err := c.open(ctx, conn, opts)
	if err != nil && ctx.Err() != nil {
		c.Dispose()
		return nil, nil, err
	}
	return c, p, err
}

// Get returns the panel registered under key.
func (r *Registry) Get(key string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.panels[key]
	return c, ok
}

// Keys lists the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.panels))
	for k := range r.panels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live panels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

// Close disposes every panel.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Controller, 0, len(r.panels))
	for _, c := range r.panels {
		all = append(all, c)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.Dispose()
	}
}

func (r *Registry) rekey(c *Controller, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.panels[to]; ok && other != c {
		return fmt.Errorf("%w: %s", ErrTargetInUse, to)
	}
	if cur, ok := r.panels[from]; ok && cur == c {
		delete(r.panels, from)
	}
	r.panels[to] = c
	return nil
}

func (r *Registry) release(key string, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.panels[key]; ok && cur == c {
		delete(r.panels, key)
	}
}
