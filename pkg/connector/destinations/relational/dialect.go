package relational

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
)

// maxParams is the bind parameter limit shared by Postgres and MySQL.
const maxParams = 65535

// Conn holds the connection parameters of a relational destination.
type Conn struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// Schema is the Postgres namespace of the target tables, public by default
	Schema  string
	SSLMode string
	Timeout time.Duration
}

// Dialect captures the SQL differences between supported engines.
type Dialect interface {
	Name() core.DestinationType
	DriverName() string
	DSN(c Conn) string
	Quote(ident string) string
	// Table returns the qualified, quoted name of table
	Table(c Conn, table string) string
	Placeholder(n int) string
	ColumnType(t core.FieldType) string
	// ColumnsSQL returns a query listing column_name and data_type of the
	// table matching (namespace, table) in ordinal order, and the namespace
	// argument to bind.
	ColumnsSQL(c Conn) (query string, namespace string)
}

// DialectFor returns the dialect of a relational destination type.
func DialectFor(t core.DestinationType) (Dialect, bool) {
	switch t {
	case core.DestinationTypePostgres:
		return postgresDialect{}, true
	case core.DestinationTypeMySQL:
		return mysqlDialect{}, true
	default:
		return nil, false
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() core.DestinationType { return core.DestinationTypePostgres }

func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) DSN(c Conn) string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	if c.Timeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.Timeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (postgresDialect) Quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func (d postgresDialect) Table(c Conn, table string) string {
	return pgx.Identifier{postgresSchema(c), table}.Sanitize()
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) ColumnType(t core.FieldType) string {
	switch t {
	case core.FieldTypeBool:
		return "BOOLEAN"
	case core.FieldTypeInt:
		return "BIGINT"
	case core.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case core.FieldTypeDate:
		return "DATE"
	case core.FieldTypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (postgresDialect) ColumnsSQL(c Conn) (string, string) {
	return "SELECT column_name, data_type FROM information_schema.columns " +
		"WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position", postgresSchema(c)
}

func postgresSchema(c Conn) string {
	if c.Schema == "" {
		return "public"
	}
	return c.Schema
}

type mysqlDialect struct{}

func (mysqlDialect) Name() core.DestinationType { return core.DestinationTypeMySQL }

func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(c Conn) string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	return cfg.FormatDSN()
}

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (d mysqlDialect) Table(_ Conn, table string) string {
	return d.Quote(table)
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) ColumnType(t core.FieldType) string {
	switch t {
	case core.FieldTypeBool:
		return "BOOLEAN"
	case core.FieldTypeInt:
		return "BIGINT"
	case core.FieldTypeFloat:
		return "DOUBLE"
	case core.FieldTypeDate:
		return "DATE"
	case core.FieldTypeTimestamp:
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}

func (mysqlDialect) ColumnsSQL(c Conn) (string, string) {
	return "SELECT column_name, data_type FROM information_schema.columns " +
		"WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position", c.Database
}

// FieldTypeOf maps an information_schema data_type of either engine back onto
// a core field type. MySQL reports BOOLEAN columns as tinyint. Types with no
// counterpart, such as jsonb or uuid, are returned as is.
func FieldTypeOf(dataType string) core.FieldType {
	t := strings.ToLower(strings.TrimSpace(dataType))
	switch t {
	case "boolean":
		return core.FieldTypeBool
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		return core.FieldTypeInt
	case "real", "float", "double", "double precision", "numeric", "decimal":
		return core.FieldTypeFloat
	case "date":
		return core.FieldTypeDate
	case "datetime", "timestamp", "timestamp with time zone", "timestamp without time zone":
		return core.FieldTypeTimestamp
	case "text", "tinytext", "mediumtext", "longtext", "varchar", "char", "character varying", "character":
		return core.FieldTypeString
	default:
		return core.FieldType(t)
	}
}

// CreateTableSQL returns the CREATE TABLE statement for schema. Unique key
// columns become the primary key.
func CreateTableSQL(d Dialect, c Conn, table string, schema *core.Schema, uniqueKey []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", d.Table(c, table))
	for i, f := range schema.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(f.Name))
		b.WriteByte(' ')
		colType := d.ColumnType(f.Type)
		if d.Name() == core.DestinationTypeMySQL && colType == "LONGTEXT" && contains(uniqueKey, f.Name) {
			colType = "VARCHAR(255)"
		}
		b.WriteString(colType)
		if !f.Nullable || contains(uniqueKey, f.Name) {
			b.WriteString(" NOT NULL")
		}
	}
	if len(uniqueKey) > 0 {
		quoted := make([]string, len(uniqueKey))
		for i, k := range uniqueKey {
			quoted[i] = d.Quote(k)
		}
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// DropTableSQL returns the DROP TABLE statement for table.
func DropTableSQL(d Dialect, c Conn, table string) string {
	return "DROP TABLE IF EXISTS " + d.Table(c, table)
}

// InsertStatement is one parameterized multi-row INSERT.
type InsertStatement struct {
	SQL  string
	Args []interface{}
	Rows int
}

// InsertSQL builds multi-row INSERT statements for rows, splitting them so no
// statement exceeds the bind parameter limit. Columns follow schema order and
// missing values bind as NULL.
func InsertSQL(d Dialect, c Conn, table string, schema *core.Schema, rows []core.Row) []InsertStatement {
	if len(rows) == 0 || len(schema.Fields) == 0 {
		return nil
	}
	cols := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = d.Quote(f.Name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.Table(c, table), strings.Join(cols, ", "))

	perStmt := maxParams / len(schema.Fields)
	var stmts []InsertStatement
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		var b strings.Builder
		b.WriteString(prefix)
		args := make([]interface{}, 0, (end-start)*len(schema.Fields))
		for i, row := range rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for j, f := range schema.Fields {
				if j > 0 {
					b.WriteString(", ")
				}
				args = append(args, row[f.Name])
				b.WriteString(d.Placeholder(len(args)))
			}
			b.WriteByte(')')
		}
		stmts = append(stmts, InsertStatement{SQL: b.String(), Args: args, Rows: end - start})
	}
	return stmts
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
