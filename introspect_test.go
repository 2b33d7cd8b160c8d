package mssqlgrid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptConn replays canned results in order and records the statements.
type scriptConn struct {
	mu      sync.Mutex
	results []*RowSet
	err     error
	sql     []string
}

func (s *scriptConn) Query(_ context.Context, sqlText string) (*RowSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sql = append(s.sql, sqlText)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return &RowSet{}, nil
	}
	rs := s.results[0]
	s.results = s.results[1:]
	return rs, nil
}

func TestLoadColumns(t *testing.T) {
	conn := &scriptConn{results: []*RowSet{{
		Columns: []string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "CHARACTER_MAXIMUM_LENGTH", "COLUMN_DEFAULT"},
		Rows: [][]interface{}{
			{"id", "int", "NO", nil, nil},
			{"name", "nvarchar", "YES", int64(100), "(N'')"},
		},
	}}}

	ref := TableRef{Database: "test]db", Schema: "dbo", Object: "O'Hara"}
	cols, err := LoadColumns(context.Background(), conn, ref)
	require.NoError(t, err)
	require.Len(t, cols, 2)

	assert.Equal(t, "id", cols[0].Name)
	assert.False(t, cols[0].IsNullable)
	assert.Nil(t, cols[0].MaxLength)
	assert.Nil(t, cols[0].DefaultValue)

	assert.True(t, cols[1].IsNullable)
	require.NotNil(t, cols[1].MaxLength)
	assert.Equal(t, 100, *cols[1].MaxLength)
	assert.Equal(t, "(N'')", *cols[1].DefaultValue)

	assert.Contains(t, conn.sql[0], "FROM [test]]db].INFORMATION_SCHEMA.COLUMNS")
	assert.Contains(t, conn.sql[0], "TABLE_NAME = N'O''Hara'")
	assert.Contains(t, conn.sql[0], "ORDER BY ORDINAL_POSITION")
}

func TestLoadColumnsError(t *testing.T) {
	conn := &scriptConn{err: errors.New("login failed")}
	_, err := LoadColumns(context.Background(), conn, customersRef)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading columns of testdb.dbo.Customers")
}

func TestListObjects(t *testing.T) {
	conn := &scriptConn{results: []*RowSet{{
		Columns: []string{"name", "type", "ord"},
		Rows: [][]interface{}{
			{"Customers", "TABLE", int64(1)},
			{"vActive", "VIEW", int64(2)},
			{"usp_Load", "PROC", int64(3)},
		},
	}}}

	objs, err := ListObjects(context.Background(), conn, "testdb", "dbo")
	require.NoError(t, err)
	assert.Equal(t, []ObjectInfo{
		{Name: "Customers", Type: TypeTable},
		{Name: "vActive", Type: TypeView},
		{Name: "usp_Load", Type: TypeProcedure},
	}, objs)
	assert.Contains(t, conn.sql[0], "FROM [testdb].sys.objects")
	assert.Contains(t, conn.sql[0], "s.name = N'dbo'")
}

func TestListDatabasesAndSchemas(t *testing.T) {
	conn := &scriptConn{results: []*RowSet{
		{Columns: []string{"name"}, Rows: [][]interface{}{{"sales"}, {"testdb"}}},
		{Columns: []string{"name"}, Rows: [][]interface{}{{"dbo"}, {"sales"}}},
	}}

	dbs, err := ListDatabases(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "testdb"}, dbs)

	schemas, err := ListSchemas(context.Background(), conn, "testdb")
	require.NoError(t, err)
	assert.Equal(t, []string{"dbo", "sales"}, schemas)
	assert.Contains(t, conn.sql[1], "[testdb].sys.schemas")
}

func TestDefinitionSynthesizesTableDDL(t *testing.T) {
	conn := &scriptConn{results: []*RowSet{{
		Columns: []string{"column_name", "data_type", "max_length", "is_nullable", "is_identity"},
		Rows: [][]interface{}{
			{"id", "int", int64(4), false, int64(1)},
			{"name", "nvarchar", int64(200), true, int64(0)},
			{"notes", "varchar", int64(-1), true, int64(0)},
		},
	}}}
	in, err := NewIntrospector(10, time.Minute, nil)
	require.NoError(t, err)
	defer in.Close()

	def, err := in.Definition(context.Background(), conn, "testdb", "dbo", "Customers", TypeTable)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE [dbo].[Customers] (\n  [id] int IDENTITY(1,1) NOT NULL,\n  [name] nvarchar(100) NULL,\n  [notes] varchar(max) NULL\n);", def)
}

func TestDefinitionIsCached(t *testing.T) {
	conn := &scriptConn{results: []*RowSet{
		{Columns: []string{"definition"}, Rows: [][]interface{}{{"CREATE VIEW v AS SELECT 1"}}},
		{Columns: []string{"definition"}, Rows: [][]interface{}{{"CREATE VIEW v AS SELECT 2"}}},
	}}
	in, err := NewIntrospector(10, time.Minute, nil)
	require.NoError(t, err)
	defer in.Close()

	first, err := in.Definition(context.Background(), conn, "testdb", "dbo", "v", TypeView)
	require.NoError(t, err)
	second, err := in.Definition(context.Background(), conn, "testdb", "dbo", "v", TypeView)
	require.NoError(t, err)
	assert.Equal(t, "CREATE VIEW v AS SELECT 1", first)
	assert.Equal(t, first, second)
	assert.Len(t, conn.sql, 1)
	assert.Contains(t, conn.sql[0], "OBJECT_DEFINITION(OBJECT_ID(N'[testdb].[dbo].[v]'))")

	in.Invalidate("testdb", "dbo", "v", TypeView)
	third, err := in.Definition(context.Background(), conn, "testdb", "dbo", "v", TypeView)
	require.NoError(t, err)
	assert.Equal(t, "CREATE VIEW v AS SELECT 2", third)
}
