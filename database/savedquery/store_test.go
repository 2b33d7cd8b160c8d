package savedquery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gnemet/mssqlgrid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu  sync.Mutex
	sql []string
}

func (c *recordingConn) Query(_ context.Context, sqlText string) (*mssqlgrid.RowSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sql = append(c.sql, sqlText)
	return &mssqlgrid.RowSet{Columns: []string{"n"}, Rows: [][]interface{}{{int64(1)}}}, nil
}

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "saved", "queries.yaml")
	s, err := Open(path, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, path
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, path := openTemp(t)
	assert.Empty(t, s.All())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAddPersists(t *testing.T) {
	s, path := openTemp(t)

	q, err := s.Add("  Top customers ", "SELECT TOP 10 * FROM dbo.Customers\n", "weekly")
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "Top customers", q.Name)
	assert.Equal(t, "SELECT TOP 10 * FROM dbo.Customers", q.Query)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), q.CreatedAt)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	got, err := reopened.Get(q.ID)
	require.NoError(t, err)
	assert.Equal(t, q, got)

	_, err = s.Add("", "SELECT 1", "")
	assert.Error(t, err)
	_, err = s.Add("empty", "   ", "")
	assert.Error(t, err)
	assert.Len(t, s.All(), 1)
}

func TestAllOrdersByName(t *testing.T) {
	s, _ := openTemp(t)
	for _, name := range []string{"orders", "Customers", "audit"} {
		_, err := s.Add(name, "SELECT 1", "")
		require.NoError(t, err)
	}
	var names []string
	for _, q := range s.All() {
		names = append(names, q.Name)
	}
	assert.Equal(t, []string{"audit", "Customers", "orders"}, names)
}

func TestUpdateAndDelete(t *testing.T) {
	s, path := openTemp(t)
	q, err := s.Add("a", "SELECT 1", "")
	require.NoError(t, err)

	name := "renamed"
	desc := "now described"
	updated, err := s.Update(q.ID, Patch{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "SELECT 1", updated.Query)
	assert.Equal(t, "now described", updated.Description)

	blank := " "
	_, err = s.Update(q.ID, Patch{Query: &blank})
	assert.Error(t, err)
	got, _ := s.Get(q.ID)
	assert.Equal(t, "SELECT 1", got.Query)

	_, err = s.Update("missing", Patch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(q.ID))
	assert.ErrorIs(t, s.Delete(q.ID), ErrNotFound)
	_, err = s.Get(q.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.Empty(t, reopened.All())
}

func TestRunMarksUsedAndPaginates(t *testing.T) {
	s, path := openTemp(t)
	q, err := s.Add("nums", "SELECT n FROM dbo.Numbers", "")
	require.NoError(t, err)
	assert.Nil(t, q.LastUsed)

	conn := &recordingConn{}
	ran, ex, err := s.Run(context.Background(), conn, q.ID, 100, 50)
	require.NoError(t, err)
	require.NotNil(t, ran.LastUsed)
	assert.Equal(t, 1, ex.RowCount())
	require.Len(t, conn.sql, 1)
	assert.Contains(t, conn.sql[0], "OFFSET 100 ROWS FETCH NEXT 50 ROWS ONLY")

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	got, err := reopened.Get(q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsed)
	assert.True(t, got.LastUsed.Equal(*ran.LastUsed))

	_, _, err = s.Run(context.Background(), conn, "missing", 0, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queries: [unclosed"), 0o644))
	_, err := Open(path, nil)
	assert.Error(t, err)
}
