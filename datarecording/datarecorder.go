// Package datarecording stores protocol activity in SQLite databases.
package datarecording

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// flushThreshold is the number of buffered entries that triggers a write.
// Protocol traffic is sparse, so entries reach the file quickly.
const flushThreshold = 256

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a new table with columns named after the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all tables created, in name order.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes, records the end of the execution and closes the
	// database.
	Close() error
}

// New creates a DataRecorder that writes to path + ".sqlite3". An empty path
// picks a unique name in the working directory. New panics if the file
// already exists.
func New(path string) DataRecorder {
	if path == "" {
		path = "procaccess_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		log.Panicf("recording %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		log.Panic(err)
	}

	fmt.Fprintf(os.Stderr, "Recording requests to %s\n", filename)

	return NewWithDB(db)
}

// NewWithDB creates a DataRecorder on an open database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		db:     db,
		tables: make(map[string]*table),
	}

	w.exec = newExecRecorder(w)
	w.exec.Start()

	atexit.Register(w.Flush)

	return w
}

type table struct {
	name       string
	structType reflect.Type
	insert     *sql.Stmt
	pending    [][]any
}

// sqliteWriter buffers rows per table. Hooks fire from many sessions at once,
// so every method takes the lock.
type sqliteWriter struct {
	lock     sync.Mutex
	db       *sql.DB
	tables   map[string]*table
	buffered int
	exec     *execRecorder
	closed   bool
}

// columnType returns the SQLite type affinity for a field kind.
func columnType(kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.String:
		return "TEXT", true
	default:
		return "", false
	}
}

func columnDefs(sampleEntry any) ([]string, error) {
	t := reflect.TypeOf(sampleEntry)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entry of type %T is not a struct", sampleEntry)
	}

	names := structs.Names(sampleEntry)
	if len(names) == 0 {
		return nil, fmt.Errorf("%s has no exported fields", t.Name())
	}

	defs := make([]string, 0, len(names))

	for _, name := range names {
		field, _ := t.FieldByName(name)

		sqlType, ok := columnType(field.Type.Kind())
		if !ok || !field.IsExported() {
			return nil, fmt.Errorf("field %s of %s cannot be stored",
				name, t.Name())
		}

		defs = append(defs, name+" "+sqlType)
	}

	return defs, nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	defs, err := columnDefs(sampleEntry)
	if err != nil {
		log.Panic(err)
	}

	w.mustExecute("CREATE TABLE " + tableName + " (\n\t" +
		strings.Join(defs, ",\n\t") + "\n)")

	placeholders := strings.Repeat("?, ", len(defs)-1) + "?"

	insert, err := w.db.Prepare(
		"INSERT INTO " + tableName + " VALUES (" + placeholders + ")")
	if err != nil {
		log.Panic(err)
	}

	w.tables[tableName] = &table{
		name:       tableName,
		structType: reflect.TypeOf(sampleEntry),
		insert:     insert,
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	t, ok := w.tables[tableName]
	if !ok {
		log.Panicf("table %s does not exist", tableName)
	}

	if reflect.TypeOf(entry) != t.structType {
		log.Panicf("entry of type %T does not belong in table %s",
			entry, tableName)
	}

	t.pending = append(t.pending, structs.Values(entry))

	w.buffered++
	if w.buffered >= flushThreshold {
		w.flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (w *sqliteWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *sqliteWriter) flush() {
	if w.buffered == 0 || w.closed {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		log.Panic(err)
	}

	for _, t := range w.tables {
		stmt := tx.Stmt(t.insert)

		for _, row := range t.pending {
			if _, err := stmt.Exec(row...); err != nil {
				tx.Rollback()
				log.Panicf("insert into %s: %v", t.name, err)
			}
		}

		t.pending = nil
	}

	if err := tx.Commit(); err != nil {
		log.Panic(err)
	}

	w.buffered = 0
}

func (w *sqliteWriter) Close() error {
	w.lock.Lock()
	closed := w.closed
	w.lock.Unlock()

	if closed {
		return nil
	}

	w.exec.End()

	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
	w.closed = true

	for _, t := range w.tables {
		t.insert.Close()
	}

	return w.db.Close()
}

func (w *sqliteWriter) mustExecute(query string) {
	if _, err := w.db.Exec(query); err != nil {
		log.Panicf("failed to execute %q: %v", query, err)
	}
}
