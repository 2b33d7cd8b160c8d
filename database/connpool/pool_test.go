package connpool

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T, name string) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return NewFromDB(name, db, time.Second, nil), mock
}

func TestQueryConvertsDriverValues(t *testing.T) {
	p, mock := newMockPool(t, "main")
	defer p.Close()

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("INT", int64(0)),
		sqlmock.NewColumn("amount").OfType("DECIMAL", []byte{}),
		sqlmock.NewColumn("guid").OfType("UNIQUEIDENTIFIER", []byte{}),
		sqlmock.NewColumn("photo").OfType("VARBINARY", []byte{}),
		sqlmock.NewColumn("name").OfType("NVARCHAR", []byte{}),
	).AddRow(
		int64(7),
		[]byte("12.50"),
		[]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		[]byte{0xde, 0xad},
		[]byte("Ada"),
	).AddRow(int64(8), nil, nil, nil, nil)

	mock.ExpectQuery("SELECT * FROM [dbo].[Things]").WillReturnRows(rows)

	rs, err := p.Query(context.Background(), "SELECT * FROM [dbo].[Things]")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "amount", "guid", "photo", "name"}, rs.Columns)
	require.Len(t, rs.Rows, 2)

	first := rs.Rows[0]
	assert.Equal(t, int64(7), first[0])
	amount, ok := first[1].(decimal.Decimal)
	require.True(t, ok, "amount should be a decimal, got %T", first[1])
	assert.True(t, amount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "04030201-0605-0807-090A-0B0C0D0E0F10", first[2])
	assert.Equal(t, []byte{0xde, 0xad}, first[3])
	assert.Equal(t, "Ada", first[4])

	assert.Equal(t, []interface{}{int64(8), nil, nil, nil, nil}, rs.Rows[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryWrapsDriverError(t *testing.T) {
	p, mock := newMockPool(t, "main")
	defer p.Close()

	boom := errors.New("Invalid object name 'dbo.Nope'")
	mock.ExpectQuery("SELECT 1 FROM dbo.Nope").WillReturnError(boom)

	_, err := p.Query(context.Background(), "SELECT 1 FROM dbo.Nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "direct query failed")
}

func TestQueryEmptyResultHasNoRows(t *testing.T) {
	p, mock := newMockPool(t, "main")
	defer p.Close()

	mock.ExpectQuery("SELECT id FROM t").WillReturnRows(
		sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("INT", int64(0))))

	rs, err := p.Query(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, rs.Columns)
	assert.NotNil(t, rs.Rows)
	assert.Empty(t, rs.Rows)
}

func TestConvertValuePassesThroughNonBytes(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now, convertValue("DATETIME2", now))
	assert.Equal(t, "12.x", convertValue("MONEY", []byte("12.x")))
	assert.Equal(t, []byte{1, 2}, convertValue("UNIQUEIDENTIFIER", []byte{1, 2}))
}

func TestManagerTracksActivePool(t *testing.T) {
	m := NewManager(nil)

	_, err := m.Active()
	assert.ErrorIs(t, err, ErrUnknownConnection)

	first, firstMock := newMockPool(t, "sales")
	second, secondMock := newMockPool(t, "hr")
	m.Add(first)
	m.Add(second)

	assert.Equal(t, "sales", m.ActiveName())
	assert.Equal(t, []string{"hr", "sales"}, m.Names())
	assert.Len(t, m.Conns(), 2)

	require.NoError(t, m.SetActive("hr"))
	p, err := m.Active()
	require.NoError(t, err)
	assert.Same(t, second, p)
	assert.ErrorIs(t, m.SetActive("nope"), ErrUnknownConnection)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownConnection)

	secondMock.ExpectClose()
	require.NoError(t, m.Remove("hr"))
	assert.Equal(t, "", m.ActiveName())
	assert.Equal(t, []string{"sales"}, m.Names())

	firstMock.ExpectClose()
	require.NoError(t, m.Close())
	assert.Empty(t, m.Names())
	assert.NoError(t, firstMock.ExpectationsWereMet())
	assert.NoError(t, secondMock.ExpectationsWereMet())
}

func TestManagerAddReplacesSameName(t *testing.T) {
	m := NewManager(nil)
	old, oldMock := newMockPool(t, "main")
	fresh, freshMock := newMockPool(t, "main")

	m.Add(old)
	oldMock.ExpectClose()
	m.Add(fresh)

	p, err := m.Get("main")
	require.NoError(t, err)
	assert.Same(t, fresh, p)
	assert.NoError(t, oldMock.ExpectationsWereMet())

	freshMock.ExpectClose()
	require.NoError(t, m.Close())
}

func TestManagerHealthCheckPings(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	m := NewManager(nil)
	m.Add(NewFromDB("main", db, time.Second, nil))

	mock.ExpectPing()
	m.checkHealth()
	assert.NoError(t, mock.ExpectationsWereMet())

	m.StartHealthCheck(time.Hour)
	mock.ExpectClose()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

// TestOpenLive runs against a real server when MSSQL_DSN is set.
func TestOpenLive(t *testing.T) {
	dsn := os.Getenv("MSSQL_DSN")
	if dsn == "" {
		t.Skip("MSSQL_DSN not set")
	}
	p, err := Open(context.Background(), "live", dsn, Tuning{}, nil)
	require.NoError(t, err)
	defer p.Close()

	rs, err := p.Query(context.Background(), "SELECT CAST(1.50 AS decimal(5,2)) AS amount, NEWID() AS id, N'x' AS s")
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.IsType(t, decimal.Decimal{}, rs.Rows[0][0])
	assert.IsType(t, "", rs.Rows[0][1])
	assert.Equal(t, "x", rs.Rows[0][2])
}

