package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/sarchlab/procaccess/sim"
)

// A Filter selects rows of a mapped table. Column names must be fields of the
// mapped struct.
type Filter struct {
	// Match keeps the rows whose columns equal the given values.
	Match map[string]any

	OrderBy string
	Desc    bool

	// Limit caps the number of rows returned. Zero means no cap.
	Limit  int
	Offset int
}

// DataReader reads recorded tables back into structs.
type DataReader interface {
	// MapTable tells the reader which struct a table stores. A table must be
	// mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables in name order.
	ListTables() []string

	// Query returns pointers to structs of the mapped type, plus the number
	// of rows that match the filter regardless of Limit and Offset.
	Query(ctx context.Context, tableName string, filter Filter) (
		results []any,
		totalCount int,
		err error,
	)

	Close() error
}

type sqliteReader struct {
	db      *sql.DB
	typeMap map[string]reflect.Type
}

// NewReader opens an existing recording read-only.
func NewReader(path string) (DataReader, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: cannot open recording %s: %v",
			sim.ErrInvalidArgument, path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader on an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		db:      db,
		typeMap: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.typeMap[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.typeMap))
	for table := range r.typeMap {
		tables = append(tables, table)
	}

	sort.Strings(tables)

	return tables
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	filter Filter,
) ([]any, int, error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("%w: table %s is not mapped",
			sim.ErrNotFound, tableName)
	}

	where, args, err := whereClause(structType, filter.Match)
	if err != nil {
		return nil, 0, err
	}

	var total int

	countQuery := "SELECT COUNT(*) FROM " + tableName + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, err := selectQuery(tableName, where, structType, filter)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows, structType)
	if err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}

func checkColumn(structType reflect.Type, column string) error {
	if _, ok := structType.FieldByName(column); !ok {
		return fmt.Errorf("%w: %s has no column %s",
			sim.ErrInvalidArgument, structType.Name(), column)
	}

	return nil
}

// whereClause builds the condition for match. Columns are sorted so the
// query text is stable.
func whereClause(
	structType reflect.Type,
	match map[string]any,
) (string, []any, error) {
	if len(match) == 0 {
		return "", nil, nil
	}

	columns := make([]string, 0, len(match))
	for column := range match {
		if err := checkColumn(structType, column); err != nil {
			return "", nil, err
		}

		columns = append(columns, column)
	}

	sort.Strings(columns)

	conds := make([]string, len(columns))
	args := make([]any, len(columns))

	for i, column := range columns {
		conds[i] = column + " = ?"
		args[i] = match[column]
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func selectQuery(
	tableName, where string,
	structType reflect.Type,
	filter Filter,
) (string, error) {
	var b strings.Builder

	b.WriteString("SELECT * FROM ")
	b.WriteString(tableName)
	b.WriteString(where)

	if filter.OrderBy != "" {
		if err := checkColumn(structType, filter.OrderBy); err != nil {
			return "", err
		}

		b.WriteString(" ORDER BY ")
		b.WriteString(filter.OrderBy)

		if filter.Desc {
			b.WriteString(" DESC")
		}
	}

	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)

		if filter.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", filter.Offset)
		}
	}

	return b.String(), nil
}

// scanRows fills one struct per row by column name. Columns without a
// matching field are discarded.
func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []any

	for rows.Next() {
		ptr := reflect.New(structType)
		targets := make([]any, len(columns))

		for i, column := range columns {
			field := ptr.Elem().FieldByName(column)
			if field.IsValid() {
				targets[i] = field.Addr().Interface()
				continue
			}

			var discard any
			targets[i] = &discard
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, ptr.Interface())
	}

	return results, rows.Err()
}
