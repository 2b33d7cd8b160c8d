// Package savedquery keeps bookmarked SQL statements in a YAML file.
package savedquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gnemet/mssqlgrid"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for an id the store does not hold.
var ErrNotFound = errors.New("saved query not found")

// Query is one bookmarked statement.
type Query struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Query       string     `yaml:"query" json:"query"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at" json:"createdAt"`
	LastUsed    *time.Time `yaml:"last_used,omitempty" json:"lastUsed,omitempty"`
}

// Patch holds the fields Update changes; nil fields are kept.
type Patch struct {
	Name        *string
	Query       *string
	Description *string
}

type file struct {
	Queries []Query `yaml:"queries"`
}

// Store is a YAML-backed list of saved queries. Every mutation rewrites the
// file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	queries []Query
}

// Open loads path, starting empty when the file does not exist yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger, now: time.Now}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading saved queries: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing saved queries %s: %w", path, err)
	}
	s.queries = f.Queries
	return s, nil
}

// Add saves a new query.
func (s *Store) Add(name, query, description string) (Query, error) {
	name = strings.TrimSpace(name)
	query = strings.TrimSpace(query)
	if name == "" || query == "" {
		return Query{}, errors.New("name and query are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q := Query{
		ID:          uuid.NewString(),
		Name:        name,
		Query:       query,
		Description: description,
		CreatedAt:   s.now().UTC(),
	}
	s.queries = append(s.queries, q)
	if err := s.saveLocked(); err != nil {
		s.queries = s.queries[:len(s.queries)-1]
		return Query{}, err
	}
	s.logger.Info("saved query added", "id", q.ID, "name", q.Name)
	return q, nil
}

// Update applies patch to the query with id.
func (s *Store) Update(id string, patch Patch) (Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Query{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := s.queries[i]
	q := prev
	if patch.Name != nil {
		q.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Query != nil {
		q.Query = strings.TrimSpace(*patch.Query)
	}
	if patch.Description != nil {
		q.Description = *patch.Description
	}
	if q.Name == "" || q.Query == "" {
		return Query{}, errors.New("name and query are required")
	}
	s.queries[i] = q
	if err := s.saveLocked(); err != nil {
		s.queries[i] = prev
		return Query{}, err
	}
	return q, nil
}

// Delete removes the query with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := s.queries
	s.queries = append(append([]Query(nil), s.queries[:i]...), s.queries[i+1:]...)
	if err := s.saveLocked(); err != nil {
		s.queries = prev
		return err
	}
	s.logger.Info("saved query deleted", "id", id)
	return nil
}

// Get returns the query with id.
func (s *Store) Get(id string) (Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Query{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.queries[i], nil
}

// All returns every query ordered by name.
func (s *Store) All() []Query {
	s.mu.Lock()
	out := append([]Query(nil), s.queries...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// MarkUsed stamps the query's last use.
func (s *Store) MarkUsed(id string) (Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Query{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := s.queries[i].LastUsed
	now := s.now().UTC()
	s.queries[i].LastUsed = &now
	if err := s.saveLocked(); err != nil {
		s.queries[i].LastUsed = prev
		return Query{}, err
	}
	return s.queries[i], nil
}

// Run marks the query used and executes one page of it on conn.
func (s *Store) Run(ctx context.Context, conn mssqlgrid.Conn, id string, offset, limit int) (Query, *mssqlgrid.Execution, error) {
	q, err := s.MarkUsed(id)
	if err != nil {
		return Query{}, nil, err
	}
	ex, err := mssqlgrid.RunAdhoc(ctx, conn, q.Query, offset, limit)
	if err != nil {
		return q, nil, fmt.Errorf("running saved query %s: %w", q.Name, err)
	}
	return q, ex, nil
}

func (s *Store) indexLocked(id string) int {
	for i, q := range s.queries {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// saveLocked writes to a temp file next to path and renames it over path.
func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(file{Queries: s.queries})
	if err != nil {
		return fmt.Errorf("encoding saved queries: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".saved-queries-*.yaml")
	if err != nil {
		return fmt.Errorf("writing saved queries: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing saved queries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing saved queries: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}
