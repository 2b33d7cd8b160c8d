// Package connpool holds the SQL Server connections panels query through.
package connpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gnemet/mssqlgrid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"
)

// DriverName is the database/sql driver registered by go-mssqldb.
const DriverName = "sqlserver"

// ErrUnknownConnection is returned for a name no pool is registered under.
var ErrUnknownConnection = errors.New("unknown connection")

// Tuning configures the underlying database/sql pool.
type Tuning struct {
	MaxOpenConns int
	IdleTimeout  time.Duration
	MaxLifetime  time.Duration
	QueryTimeout time.Duration
}

// DefaultTuning is used for zero fields of Tuning.
var DefaultTuning = Tuning{
	MaxOpenConns: 10,
	IdleTimeout:  5 * time.Minute,
	MaxLifetime:  30 * time.Minute,
	QueryTimeout: 30 * time.Second,
}

func (t Tuning) withDefaults() Tuning {
	if t.MaxOpenConns <= 0 {
		t.MaxOpenConns = DefaultTuning.MaxOpenConns
	}
	if t.IdleTimeout <= 0 {
		t.IdleTimeout = DefaultTuning.IdleTimeout
	}
	if t.MaxLifetime <= 0 {
		t.MaxLifetime = DefaultTuning.MaxLifetime
	}
	if t.QueryTimeout <= 0 {
		t.QueryTimeout = DefaultTuning.QueryTimeout
	}
	return t
}

// Pool is one named SQL Server connection. It satisfies mssqlgrid.Conn.
type Pool struct {
	name         string
	db           *sql.DB
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Open connects to dsn, tunes the pool and pings the server.
func Open(ctx context.Context, name, dsn string, t Tuning, logger *slog.Logger) (*Pool, error) {
	t = t.withDefaults()
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", name, err)
	}

	db.SetMaxOpenConns(t.MaxOpenConns)
	db.SetMaxIdleConns(max(t.MaxOpenConns/2, 1))
	db.SetConnMaxLifetime(t.MaxLifetime)
	db.SetConnMaxIdleTime(t.IdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", name, err)
	}

	p := NewFromDB(name, db, t.QueryTimeout, logger)
	p.logger.Info("connected", "max_open_conns", t.MaxOpenConns)
	return p, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(name string, db *sql.DB, queryTimeout time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultTuning.QueryTimeout
	}
	return &Pool{
		name:         name,
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger.With("connection", name),
	}
}

// Name returns the connection name.
func (p *Pool) Name() string { return p.name }

// DB exposes the underlying handle.
func (p *Pool) DB() *sql.DB { return p.db }

// Ping checks the server is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Query runs one statement under the per-statement timeout and returns its
// rows in column order.
func (p *Pool) Query(ctx context.Context, sqlText string) (*mssqlgrid.RowSet, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("direct query failed: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) (*mssqlgrid.RowSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(types))
	dbTypes := make([]string, len(types))
	for i, ct := range types {
		cols[i] = ct.Name()
		dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	rs := &mssqlgrid.RowSet{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		pointers := make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		for i := range values {
			values[i] = convertValue(dbTypes[i], values[i])
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// convertValue turns driver bytes into display-friendly values. Exact
// numerics become decimals, uniqueidentifiers their canonical text. Other
// binary types stay as bytes.
func convertValue(dbType string, v interface{}) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch dbType {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		if d, err := decimal.NewFromString(string(b)); err == nil {
			return d
		}
		return string(b)
	case "UNIQUEIDENTIFIER":
		var u mssql.UniqueIdentifier
		if err := u.Scan(b); err == nil {
			return u.String()
		}
		return b
	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP", "ROWVERSION", "UDT", "GEOGRAPHY", "GEOMETRY", "HIERARCHYID":
		return b
	}
	return string(b)
}

// Manager keeps the named pools and which one is active.
type Manager struct {
	mu     sync.Mutex
	pools  map[string]*Pool
	active string
	logger *slog.Logger

	healthStop chan struct{}
	healthOnce sync.Once
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pools:      make(map[string]*Pool),
		logger:     logger,
		healthStop: make(chan struct{}),
	}
}

// Add registers p, replacing and closing any pool of the same name. The
// first pool added becomes active.
func (m *Manager) Add(p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.pools[p.name]; ok && old != p {
		_ = old.Close()
	}
	m.pools[p.name] = p
	if m.active == "" {
		m.active = p.name
	}
}

// Get returns the pool registered under name.
func (m *Manager) Get(name string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	return p, nil
}

// SetActive makes name the active connection.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	m.active = name
	return nil
}

// Active returns the active pool.
func (m *Manager) Active() (*Pool, error) {
	m.mu.Lock()
	name := m.active
	m.mu.Unlock()
	if name == "" {
		return nil, fmt.Errorf("%w: none configured", ErrUnknownConnection)
	}
	return m.Get(name)
}

// ActiveName returns the name of the active pool.
func (m *Manager) ActiveName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Names lists the registered connections in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.pools))
	for n := range m.pools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Conns returns the pools keyed by name as grid connections.
func (m *Manager) Conns() map[string]mssqlgrid.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]mssqlgrid.Conn, len(m.pools))
	for n, p := range m.pools {
		out[n] = p
	}
	return out
}

// Remove closes and forgets the pool registered under name.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	delete(m.pools, name)
	if m.active == name {
		m.active = ""
	}
	return p.Close()
}

// StartHealthCheck pings every pool each interval and logs the ones that
// stopped answering. It runs until Close.
func (m *Manager) StartHealthCheck(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.checkHealth()
			case <-m.healthStop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (m *Manager) checkHealth() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Ping(ctx); err != nil {
			m.logger.Warn("connection not answering", "connection", p.name, "error", err)
		}
		cancel()
	}
}

// Close stops the health check and closes every pool.
func (m *Manager) Close() error {
	m.healthOnce.Do(func() { close(m.healthStop) })

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for n, p := range m.pools {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", n, err))
		}
		delete(m.pools, n)
	}
	m.active = ""
	return errors.Join(errs...)
}
