package mssqlgrid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maypok86/otter"
)

// ObjectType is the catalog kind of a browsable object.
type ObjectType string

const (
	TypeTable     ObjectType = "TABLE"
	TypeView      ObjectType = "VIEW"
	TypeProcedure ObjectType = "PROC"
	TypeFunction  ObjectType = "FUNC"
	TypeTrigger   ObjectType = "TRIGGER"
)

// ObjectInfo names one object of a schema.
type ObjectInfo struct {
	Name string     `json:"name"`
	Type ObjectType `json:"type"`
}

// LoadColumns reads the ordered column metadata of ref.
func LoadColumns(ctx context.Context, conn Conn, ref TableRef) ([]ColumnMetadata, error) {
	q := fmt.Sprintf(`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH, COLUMN_DEFAULT
FROM %s.INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
ORDER BY ORDINAL_POSITION`, QuoteIdent(ref.Database), QuoteLiteral(ref.Schema), QuoteLiteral(ref.Object))

	ex, err := Execute(ctx, conn, q)
	if err != nil {
		return nil, fmt.Errorf("loading columns of %s: %w", ref, err)
	}
	rs := ex.Rows
	cols := make([]ColumnMetadata, 0, rs.Len())
	for i := range rs.Rows {
		c := ColumnMetadata{
			Name:       stringAt(rs, i, "COLUMN_NAME"),
			DataType:   stringAt(rs, i, "DATA_TYPE"),
			IsNullable: strings.EqualFold(stringAt(rs, i, "IS_NULLABLE"), "YES"),
		}
		if n, ok := intAt(rs, i, "CHARACTER_MAXIMUM_LENGTH"); ok {
			c.MaxLength = &n
		}
		if v, ok := rs.Value(i, "COLUMN_DEFAULT"); ok && v != nil {
			d := FormatValue(v)
			c.DefaultValue = &d
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// ListDatabases returns the user databases of the server.
func ListDatabases(ctx context.Context, conn Conn) ([]string, error) {
	ex, err := Execute(ctx, conn, `SELECT name FROM sys.databases WHERE database_id > 4 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	return column(ex.Rows, "name"), nil
}

// ListSchemas returns the schemas of database.
func ListSchemas(ctx context.Context, conn Conn, database string) ([]string, error) {
	q := fmt.Sprintf(`SELECT name FROM %s.sys.schemas ORDER BY name`, QuoteIdent(database))
	ex, err := Execute(ctx, conn, q)
	if err != nil {
		return nil, fmt.Errorf("listing schemas of %s: %w", database, err)
	}
	return column(ex.Rows, "name"), nil
}

// ListObjects returns tables, views, procedures, functions and triggers of a
// schema, grouped by type and ordered by name.
func ListObjects(ctx context.Context, conn Conn, database, schema string) ([]ObjectInfo, error) {
	db := QuoteIdent(database)
	s := QuoteLiteral(schema)
	q := fmt.Sprintf(`SELECT o.name AS name,
	CASE
		WHEN o.type = 'U' THEN 'TABLE'
		WHEN o.type = 'V' THEN 'VIEW'
		WHEN o.type = 'P' THEN 'PROC'
		WHEN o.type IN ('FN', 'IF', 'TF') THEN 'FUNC'
		ELSE 'TRIGGER'
	END AS type,
	CASE
		WHEN o.type = 'U' THEN 1
		WHEN o.type = 'V' THEN 2
		WHEN o.type = 'P' THEN 3
		WHEN o.type IN ('FN', 'IF', 'TF') THEN 4
		ELSE 5
	END AS ord
FROM %[1]s.sys.objects o
INNER JOIN %[1]s.sys.schemas s ON o.schema_id = s.schema_id
WHERE s.name = %[2]s AND o.type IN ('U', 'V', 'P', 'FN', 'IF', 'TF', 'TR')
ORDER BY ord, o.name`, db, s)

	ex, err := Execute(ctx, conn, q)
	if err != nil {
		return nil, fmt.Errorf("listing objects of %s.%s: %w", database, schema, err)
	}
	out := make([]ObjectInfo, 0, ex.Rows.Len())
	for i := range ex.Rows.Rows {
		out = append(out, ObjectInfo{
			Name: stringAt(ex.Rows, i, "name"),
			Type: ObjectType(stringAt(ex.Rows, i, "type")),
		})
	}
	return out, nil
}

// Introspector answers object-definition lookups and caches them.
type Introspector struct {
	defs   otter.Cache[string, string]
	logger *slog.Logger
}

// NewIntrospector creates an introspector whose definitions expire after ttl.
func NewIntrospector(capacity int, ttl time.Duration, logger *slog.Logger) (*Introspector, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := otter.MustBuilder[string, string](capacity).WithTTL(ttl).Build()
	if err != nil {
		return nil, fmt.Errorf("building definition cache: %w", err)
	}
	return &Introspector{defs: cache, logger: logger}, nil
}

func definitionKey(database, schema, name string, typ ObjectType) string {
	return string(typ) + ":" + database + "." + schema + "." + name
}

// Definition returns the DDL of a table or the source of a view, procedure,
// function or trigger.
func (in *Introspector) Definition(ctx context.Context, conn Conn, database, schema, name string, typ ObjectType) (string, error) {
	key := definitionKey(database, schema, name, typ)
	if def, ok := in.defs.Get(key); ok {
		return def, nil
	}

	var (
		def string
		err error
	)
	if typ == TypeTable {
		def, err = tableDDL(ctx, conn, database, schema, name)
	} else {
		def, err = routineDefinition(ctx, conn, database, schema, name)
	}
	if err != nil {
		return "", err
	}
	in.defs.Set(key, def)
	in.logger.Debug("cached object definition", "key", key)
	return def, nil
}

// Invalidate drops a cached definition.
func (in *Introspector) Invalidate(database, schema, name string, typ ObjectType) {
	in.defs.Delete(definitionKey(database, schema, name, typ))
}

// Close releases the cache.
func (in *Introspector) Close() {
	in.defs.Close()
}

func tableDDL(ctx context.Context, conn Conn, database, schema, table string) (string, error) {
	db := QuoteIdent(database)
	q := fmt.Sprintf(`SELECT c.name AS column_name,
	t.name AS data_type,
	c.max_length,
	c.is_nullable,
	COLUMNPROPERTY(c.object_id, c.name, 'IsIdentity') AS is_identity
FROM %[1]s.sys.columns c
INNER JOIN %[1]s.sys.types t ON c.user_type_id = t.user_type_id
INNER JOIN %[1]s.sys.tables tb ON c.object_id = tb.object_id
INNER JOIN %[1]s.sys.schemas s ON tb.schema_id = s.schema_id
WHERE s.name = %[2]s AND tb.name = %[3]s
ORDER BY c.column_id`, db, QuoteLiteral(schema), QuoteLiteral(table))

	ex, err := Execute(ctx, conn, q)
	if err != nil {
		return "", fmt.Errorf("reading columns of %s.%s: %w", schema, table, err)
	}
	rs := ex.Rows
	lines := make([]string, 0, rs.Len())
	for i := range rs.Rows {
		typ := stringAt(rs, i, "data_type")
		length := ""
		if n, ok := intAt(rs, i, "max_length"); ok {
			length = columnLength(typ, n)
		}
		nullable := "NOT NULL"
		if boolAt(rs, i, "is_nullable") {
			nullable = "NULL"
		}
		identity := ""
		if boolAt(rs, i, "is_identity") {
			identity = " IDENTITY(1,1)"
		}
		lines = append(lines, fmt.Sprintf("  %s %s%s%s %s",
			QuoteIdent(stringAt(rs, i, "column_name")), typ, length, identity, nullable))
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (\n%s\n);", QuoteIdent(schema), QuoteIdent(table), strings.Join(lines, ",\n")), nil
}

// columnLength renders the declared length of character and binary types.
// sys.columns counts bytes, so n-types are halved; -1 is (max).
func columnLength(typ string, n int) string {
	switch strings.ToLower(typ) {
	case "char", "varchar", "binary", "varbinary":
	case "nchar", "nvarchar":
		if n > 0 {
			n /= 2
		}
	default:
		return ""
	}
	switch {
	case n == -1:
		return "(max)"
	case n <= 0:
		return ""
	}
	return fmt.Sprintf("(%d)", n)
}

func routineDefinition(ctx context.Context, conn Conn, database, schema, name string) (string, error) {
	q := fmt.Sprintf(`SELECT OBJECT_DEFINITION(OBJECT_ID(%s)) AS definition`,
		QuoteLiteral(QuoteIdent(database)+"."+QuoteIdent(schema)+"."+QuoteIdent(name)))
	ex, err := Execute(ctx, conn, q)
	if err != nil {
		return "", fmt.Errorf("reading definition of %s.%s: %w", schema, name, err)
	}
	if ex.Rows.Len() == 0 {
		return "", nil
	}
	return stringAt(ex.Rows, 0, "definition"), nil
}

func column(rs *RowSet, name string) []string {
	out := make([]string, 0, rs.Len())
	for i := range rs.Rows {
		out = append(out, stringAt(rs, i, name))
	}
	return out
}

func stringAt(rs *RowSet, i int, name string) string {
	v, _ := rs.Value(i, name)
	return FormatValue(v)
}

func intAt(rs *RowSet, i int, name string) (int, bool) {
	v, _ := rs.Value(i, name)
	switch x := v.(type) {
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case int16:
		return int(x), true
	case int:
		return x, true
	case float64:
		return int(x), true
	}
	return 0, false
}

func boolAt(rs *RowSet, i int, name string) bool {
	v, _ := rs.Value(i, name)
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	}
	return false
}
