package mssqlgrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Panel is the render payload published after every refresh.
type Panel struct {
	ID            string           `json:"id"`
	Key           string           `json:"key"`
	Title         string           `json:"title"`
	Ref           TableRef         `json:"ref"`
	Columns       []ColumnMetadata `json:"columns"`
	State         ViewState        `json:"state"`
	Result        QueryResult      `json:"result"`
	Grid          *Grid            `json:"grid"`
	Pagination    Pagination       `json:"pagination"`
	MetadataError string           `json:"metadataError,omitempty"`
	Revision      uint64           `json:"revision"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// PanelTitle formats "db.schema.object (Page P/T, N total rows)".
func PanelTitle(ref TableRef, p Pagination) string {
	return fmt.Sprintf("%s (Page %d/%d, %d total rows)", ref.Key(), p.Page, p.TotalPages, p.TotalRows)
}

type reply struct {
	panel *Panel
	err   error
}

type command struct {
	ctx    context.Context
	name   string
	apply  func(c *Controller) error
	result chan reply
}

// Controller owns the view state and query result of one open object. All
// transitions run on a single goroutine in arrival order; a new transition
// cancels the refresh still in flight for the previous one.
type Controller struct {
	id       string
	registry *Registry
	renderer *Renderer
	logger   *slog.Logger
	cmds     chan *command
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	key      string
	disposed bool
	inflight context.CancelFunc
	panel    *Panel

	// owned by the run loop
	conn     Conn
	ref      TableRef
	columns  []ColumnMetadata
	loaded   bool
	metaErr  string
	state    ViewState
	stale    bool
	revision uint64
}

func newController(reg *Registry, ref TableRef) *Controller {
	c := &Controller{
		id:       uuid.NewString(),
		registry: reg,
		renderer: NewRenderer(reg.cfg.MaxCellLength),
		logger:   reg.cfg.Logger.With("panel", ref.Key()),
		cmds:     make(chan *command, 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		key:      ref.Key(),
		ref:      ref,
		state:    NewViewState(reg.cfg.PageSize),
	}
	go c.run()
	return c
}

// ID returns the panel session id.
func (c *Controller) ID() string { return c.id }

// Key returns the registry key of the browsed object.
func (c *Controller) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Snapshot returns the last published payload, nil before the first refresh.
func (c *Controller) Snapshot() *Panel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			c.handle(cmd)
		}
	}
}

func (c *Controller) handle(cmd *command) {
	if err := cmd.apply(c); err != nil {
		if c.stale && len(c.cmds) == 0 {
			// the transition this one cancelled never published
			_, _ = c.refreshLocked(cmd.ctx)
		}
		cmd.result <- reply{err: err}
		return
	}
	if len(c.cmds) > 0 {
		c.stale = true
		c.logger.Debug("refresh coalesced", "command", cmd.name)
		cmd.result <- reply{err: ErrSuperseded}
		return
	}
	p, err := c.refreshLocked(cmd.ctx)
	cmd.result <- reply{panel: p, err: err}
}

// refreshLocked runs the count and data queries and publishes the result.
// It runs on the loop goroutine only.
func (c *Controller) refreshLocked(parent context.Context) (*Panel, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.mu.Lock()
	c.inflight = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
	}()

	if !c.loaded {
		if err := c.loadColumns(ctx); err != nil {
			return nil, c.interrupted(parent, err)
		}
	}

	res, err := c.query(ctx)
	if err != nil {
		return nil, c.interrupted(parent, err)
	}
	c.stale = false
	return c.publish(res), nil
}

// interrupted maps a cancelled refresh to the caller's error or to
// ErrSuperseded when a newer transition cancelled it.
func (c *Controller) interrupted(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	c.stale = true
	c.logger.Debug("refresh superseded", "error", err)
	return ErrSuperseded
}

// query executes count then data. Executor failures become QueryResult
// errors; only cancellation is returned as an error.
func (c *Controller) query(ctx context.Context) (QueryResult, error) {
	stmts, err := BuildStatements(c.state.Plan(c.ref, c.columns))
	if err != nil {
		return QueryResult{Error: err.Error()}, nil
	}
	res := QueryResult{ExecutedSQL: stmts.Data, CountSQL: stmts.Count}
	c.logger.Debug("refresh", "count_sql", stmts.Count, "data_sql", stmts.Data)

	countEx, err := Execute(ctx, c.conn, stmts.Count)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		c.logger.Warn("count query failed", "error", err)
		res.Error = err.Error()
		return res, nil
	}
	total, err := countValue(countEx.Rows)
	if err != nil {
		c.logger.Warn("count query returned no usable value", "error", err)
		res.Error = err.Error()
		return res, nil
	}

	dataEx, err := Execute(ctx, c.conn, stmts.Data)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		c.logger.Warn("data query failed", "error", err)
		res.Error = err.Error()
		return res, nil
	}

	res.TotalRowCount = total
	res.Columns = dataEx.Rows.Columns
	res.Rows = dataEx.Rows.Rows
	res.ExecutionTimeSeconds = dataEx.Seconds()
	return res, nil
}

func (c *Controller) publish(res QueryResult) *Panel {
	c.revision++
	pg := NewPagination(c.state.CurrentPage, c.state.PageSize, res.TotalRowCount)
	p := &Panel{
		ID:            c.id,
		Key:           c.ref.Key(),
		Title:         PanelTitle(c.ref, pg),
		Ref:           c.ref,
		Columns:       append([]ColumnMetadata(nil), c.columns...),
		State:         c.state.Clone(),
		Result:        res,
		Grid:          c.renderer.Render(res, c.state),
		Pagination:    pg,
		MetadataError: c.metaErr,
		Revision:      c.revision,
		UpdatedAt:     time.Now(),
	}
	c.mu.Lock()
	c.panel = p
	c.mu.Unlock()
	return p
}

// loadColumns reloads column metadata. Failures other than cancellation are
// logged and leave the panel open without a column selection.
func (c *Controller) loadColumns(ctx context.Context) error {
	cols, err := LoadColumns(ctx, c.conn, c.ref)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.loaded = true
	if err != nil {
		c.logger.Warn("loading column metadata failed", "error", err)
		c.columns = nil
		c.metaErr = err.Error()
		c.state.SelectedColumns = nil
		return nil
	}
	c.columns = cols
	c.metaErr = ""

	if len(cols) > 0 {
		kept := make([]string, 0, len(c.state.SelectedColumns))
		for _, n := range c.state.SelectedColumns {
			if knownColumn(n, cols) {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			for _, col := range cols {
				kept = append(kept, col.Name)
			}
		}
		c.state.SelectedColumns = kept
	}
	if ob := c.state.OrderBy; ob != nil && !knownColumn(ob.Column, cols) {
		c.logger.Warn("dropping sort on unknown column", "column", ob.Column)
		c.state.OrderBy = nil
	}
	return nil
}

func (c *Controller) submit(ctx context.Context, name string, apply func(c *Controller) error) (*Panel, error) {
	cmd := &command{ctx: ctx, name: name, apply: apply, result: make(chan reply, 1)}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if c.inflight != nil {
		c.inflight()
	}
	c.mu.Unlock()

	select {
	case c.cmds <- cmd:
	case <-c.quit:
		return nil, ErrDisposed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-cmd.result:
		return r.panel, r.err
	case <-c.done:
		return nil, ErrDisposed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) open(ctx context.Context, conn Conn, opts Options) (*Panel, error) {
	return c.submit(ctx, "open", func(c *Controller) error {
		c.conn = conn
		c.state.Apply(opts)
		return c.loadColumns(ctx)
	})
}

// Refresh re-runs the queries for the current state, retrying the column
// metadata first if its last load failed.
func (c *Controller) Refresh(ctx context.Context) (*Panel, error) {
	return c.submit(ctx, "refresh", func(c *Controller) error {
		if c.metaErr != "" {
			c.loaded = false
		}
		return nil
	})
}

// ReloadSchema reloads column metadata, then refreshes.
func (c *Controller) ReloadSchema(ctx context.Context) (*Panel, error) {
	return c.submit(ctx, "reloadSchema", func(c *Controller) error {
		return c.loadColumns(ctx)
	})
}

// SetSelectedColumns changes the visible columns and returns to page 1.
func (c *Controller) SetSelectedColumns(ctx context.Context, cols []string) (*Panel, error) {
	return c.submit(ctx, "setSelectedColumns", func(c *Controller) error {
		return c.state.SetSelectedColumns(cols, c.columns)
	})
}

// SetOrderBy sorts by column; an empty direction toggles on the same column.
func (c *Controller) SetOrderBy(ctx context.Context, column string, dir Direction) (*Panel, error) {
	return c.submit(ctx, "setOrderBy", func(c *Controller) error {
		return c.state.SetOrderBy(column, dir, c.columns)
	})
}

// SetPage moves to page n (at least 1).
func (c *Controller) SetPage(ctx context.Context, n int) (*Panel, error) {
	return c.submit(ctx, "setPage", func(c *Controller) error {
		c.state.SetPage(n)
		return nil
	})
}

// SetPageSize changes the page size and returns to page 1.
func (c *Controller) SetPageSize(ctx context.Context, n int) (*Panel, error) {
	return c.submit(ctx, "setPageSize", func(c *Controller) error {
		return c.state.SetPageSize(n)
	})
}

// SetSearch replaces the search term together with the state it was issued
// with.
func (c *Controller) SetSearch(ctx context.Context, req SearchRequest) (*Panel, error) {
	return c.submit(ctx, "setSearch", func(c *Controller) error {
		return c.state.SetSearch(req, c.columns)
	})
}

// UpdateTarget points the panel at ref, merges opts over the current state
// and reloads column metadata.
func (c *Controller) UpdateTarget(ctx context.Context, conn Conn, ref TableRef, opts Options) (*Panel, error) {
	return c.submit(ctx, "updateTarget", func(c *Controller) error {
		if ref.Key() != c.ref.Key() {
			if err := c.registry.rekey(c, c.ref.Key(), ref.Key()); err != nil {
				return err
			}
			c.mu.Lock()
			c.key = ref.Key()
			c.mu.Unlock()
			c.logger = c.registry.cfg.Logger.With("panel", ref.Key())
			c.columns = nil
			c.state.CurrentPage = 1
		}
		if conn != nil {
			c.conn = conn
		}
		c.ref = ref
		c.state.Apply(opts)
		return c.loadColumns(ctx)
	})
}

// Dispose stops the controller and releases its registration. The
// connection is left open.
func (c *Controller) Dispose() {
	c.once.Do(func() {
		c.mu.Lock()
		c.disposed = true
		if c.inflight != nil {
			c.inflight()
		}
		key := c.key
		c.mu.Unlock()

		c.registry.release(key, c)
		close(c.quit)
		<-c.done
		if c.key != key {
			c.registry.release(c.key, c)
		}
		c.logger.Debug("panel disposed")
	})
}

// IsSuperseded reports whether err means a newer transition took over.
func IsSuperseded(err error) bool { return errors.Is(err, ErrSuperseded) }
