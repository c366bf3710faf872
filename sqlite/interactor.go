// Package sqlite provides a concrete implementation of the
// persistence.DatabaseInteractor interface for SQLite databases. Each class is
// a table of JSON documents keyed by objectId, each relation a table of id
// pairs, and declared indexes become JSON expression indexes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// dbRunner abstracts the common methods of *sql.DB and *sql.Tx so the same
// code serves transactional and plain statements.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteInteractor implements persistence.DatabaseInteractor over a
// database/sql handle opened with the go-sqlite3 driver.
type SQLiteInteractor struct {
	db      *sql.DB
	tx      *sql.Tx
	logger  *zap.Logger
	options *persistence.InteractorOptions
}

// Ensure SQLiteInteractor implements the persistence.DatabaseInteractor interface.
var _ persistence.DatabaseInteractor = (*SQLiteInteractor)(nil)

// Open opens the database file at path and prepares the bookkeeping tables.
func Open(ctx context.Context, path string, logger *zap.Logger, options *persistence.InteractorOptions) (*SQLiteInteractor, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// A single connection serializes writers and keeps in-memory databases
	// consistent across statements.
	db.SetMaxOpenConns(1)
	i, err := NewSQLiteInteractor(ctx, db, logger, options)
	if err != nil {
		db.Close()
		return nil, err
	}
	return i, nil
}

// NewSQLiteInteractor creates an interactor over db and runs the bootstrap DDL.
func NewSQLiteInteractor(ctx context.Context, db *sql.DB, logger *zap.Logger, options *persistence.InteractorOptions) (*SQLiteInteractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultInteractorOptions()
	}
	i := &SQLiteInteractor{db: db, logger: logger, options: options}
	for _, stmt := range i.BootstrapSQL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return i, nil
}

// runner returns the active transaction or the connection pool.
func (i *SQLiteInteractor) runner() dbRunner {
	if i.tx != nil {
		return i.tx
	}
	return i.db
}

// withTransaction runs fn against a transactional copy of the interactor.
func (i *SQLiteInteractor) withTransaction(ctx context.Context, fn func(tx *SQLiteInteractor) error) error {
	if i.tx != nil {
		return fn(i)
	}
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	scoped := &SQLiteInteractor{db: i.db, tx: tx, logger: i.logger, options: i.options}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			i.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	i.logger.Debug("Committing transaction")
	return tx.Commit()
}

func (i *SQLiteInteractor) exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	i.logger.Debug("Executing SQL", zap.String("sql", stmt), zap.Any("params", args))
	result, err := i.runner().ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

// translateError maps engine constraint violations onto the error taxonomy.
func translateError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return core.NewError(core.KindDuplicateValue, "A duplicate value for a field with unique values was provided")
		}
	}
	return err
}

// PersistSchema inserts or replaces the stored schema of s.ClassName.
func (i *SQLiteInteractor) PersistSchema(ctx context.Context, s *schema.ClassSchema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schema %s: %w", s.ClassName, err)
	}
	_, err = i.exec(ctx,
		`INSERT INTO `+i.getTableName(schemaTable)+` ("className", "schema") VALUES (?, ?)
		 ON CONFLICT("className") DO UPDATE SET "schema" = excluded."schema";`,
		s.ClassName, string(data))
	return err
}

// LoadSchema returns the stored schema, or nil when none exists.
func (i *SQLiteInteractor) LoadSchema(ctx context.Context, className string) (*schema.ClassSchema, error) {
	var data string
	err := i.runner().QueryRowContext(ctx,
		`SELECT "schema" FROM `+i.getTableName(schemaTable)+` WHERE "className" = ?;`, className).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s schema.ClassSchema
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode schema %s: %w", className, err)
	}
	return &s, nil
}

// ListSchemas returns every stored schema ordered by class name.
func (i *SQLiteInteractor) ListSchemas(ctx context.Context) ([]*schema.ClassSchema, error) {
	rows, err := i.runner().QueryContext(ctx,
		`SELECT "className", "schema" FROM `+i.getTableName(schemaTable)+` ORDER BY "className";`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.ClassSchema
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var s schema.ClassSchema
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			i.logger.Warn("Skipping undecodable schema", zap.String("class", name), zap.Error(err))
			continue
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return out, nil
}

// DeleteSchema removes a stored schema.
func (i *SQLiteInteractor) DeleteSchema(ctx context.Context, className string) error {
	_, err := i.exec(ctx, `DELETE FROM `+i.getTableName(schemaTable)+` WHERE "className" = ?;`, className)
	return err
}

// CreateCollection creates the table of a class or join structure and
// registers it.
func (i *SQLiteInteractor) CreateCollection(ctx context.Context, name string) error {
	return i.withTransaction(ctx, func(tx *SQLiteInteractor) error {
		if _, err := tx.exec(ctx, tx.CreateTableSQL(name)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", name, err)
		}
		_, err := tx.exec(ctx, `INSERT OR IGNORE INTO `+tx.getTableName(collectionsTable)+` ("name") VALUES (?);`, name)
		return err
	})
}

// CollectionExists checks if a class or join structure is registered.
func (i *SQLiteInteractor) CollectionExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := i.runner().QueryRowContext(ctx,
		`SELECT "name" FROM `+i.getTableName(collectionsTable)+` WHERE "name" = ?;`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DropCollection drops a table with its indexes and registration.
func (i *SQLiteInteractor) DropCollection(ctx context.Context, name string) error {
	return i.withTransaction(ctx, func(tx *SQLiteInteractor) error {
		return tx.dropCollection(ctx, name)
	})
}

func (i *SQLiteInteractor) dropCollection(ctx context.Context, name string) error {
	if _, err := i.exec(ctx, i.DropTableSQL(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	if _, err := i.exec(ctx, `DELETE FROM `+i.getTableName(indexesTable)+` WHERE "className" = ?;`, name); err != nil {
		return err
	}
	_, err := i.exec(ctx, `DELETE FROM `+i.getTableName(collectionsTable)+` WHERE "name" = ?;`, name)
	return err
}

// DropCollectionAndJoinTables drops a class and its join structures in one
// transaction.
func (i *SQLiteInteractor) DropCollectionAndJoinTables(ctx context.Context, className string) error {
	return i.withTransaction(ctx, func(tx *SQLiteInteractor) error {
		joins, err := tx.joinTablesOf(ctx, className)
		if err != nil {
			return err
		}
		for _, name := range append(joins, className) {
			if err := tx.dropCollection(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (i *SQLiteInteractor) joinTablesOf(ctx context.Context, className string) ([]string, error) {
	rows, err := i.runner().QueryContext(ctx,
		`SELECT "name" FROM `+i.getTableName(collectionsTable)+` WHERE "name" LIKE '\_Join:%' ESCAPE '\';`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if owner, ok := schema.JoinOwner(name); ok && owner == className {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

// CountObjects counts the stored objects of a class.
func (i *SQLiteInteractor) CountObjects(ctx context.Context, className string) (int64, error) {
	exists, err := i.CollectionExists(ctx, className)
	if err != nil || !exists {
		return 0, err
	}
	var count int64
	err = i.runner().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+i.collectionTable(className)+`;`).Scan(&count)
	return count, err
}

// CreateIndexInBackground creates a physical index and records its spec.
// SQLite builds indexes synchronously.
func (i *SQLiteInteractor) CreateIndexInBackground(ctx context.Context, className, name string, spec schema.IndexSpec, opts persistence.IndexOptions) error {
	stmt, err := i.CreateIndexSQL(className, name, spec, opts.Unique)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to encode index %s: %w", name, err)
	}
	return i.withTransaction(ctx, func(tx *SQLiteInteractor) error {
		if _, err := tx.exec(ctx, tx.CreateTableSQL(className)); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `INSERT OR IGNORE INTO `+tx.getTableName(collectionsTable)+` ("name") VALUES (?);`, className); err != nil {
			return err
		}
		if stmt != "" {
			if _, err := tx.exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create index %s: %w", name, err)
			}
		} else {
			tx.logger.Debug("Index recorded without physical structure",
				zap.String("class", className), zap.String("index", name))
		}
		_, err := tx.exec(ctx,
			`INSERT OR IGNORE INTO `+tx.getTableName(indexesTable)+` ("className", "name", "spec", "isUnique") VALUES (?, ?, ?, ?);`,
			className, name, string(encoded), opts.Unique)
		return err
	})
}

// DropIndex removes a physical index and its record.
func (i *SQLiteInteractor) DropIndex(ctx context.Context, className, name string) error {
	return i.withTransaction(ctx, func(tx *SQLiteInteractor) error {
		if _, err := tx.exec(ctx, tx.DropIndexSQL(className, name)); err != nil {
			return err
		}
		_, err := tx.exec(ctx,
			`DELETE FROM `+tx.getTableName(indexesTable)+` WHERE "className" = ? AND "name" = ?;`, className, name)
		return err
	})
}

// ListPhysicalIndexes returns the recorded indexes of a class.
func (i *SQLiteInteractor) ListPhysicalIndexes(ctx context.Context, className string) (map[string]schema.IndexSpec, error) {
	rows, err := i.runner().QueryContext(ctx,
		`SELECT "name", "spec" FROM `+i.getTableName(indexesTable)+` WHERE "className" = ?;`, className)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]schema.IndexSpec{}
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var spec schema.IndexSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return nil, fmt.Errorf("failed to decode index %s: %w", name, err)
		}
		out[name] = spec
	}
	return out, rows.Err()
}

// InsertDocument stores a new object, creating the class table if needed.
func (i *SQLiteInteractor) InsertDocument(ctx context.Context, className string, doc schema.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	exists, err := i.CollectionExists(ctx, className)
	if err != nil {
		return err
	}
	if !exists {
		if err := i.CreateCollection(ctx, className); err != nil {
			return err
		}
	}
	_, err = i.exec(ctx, `INSERT INTO `+i.collectionTable(className)+` ("objectId", "data") VALUES (?, ?);`,
		doc.ObjectID(), string(data))
	return err
}

// ReplaceDocument overwrites an object and reports whether it existed.
func (i *SQLiteInteractor) ReplaceDocument(ctx context.Context, className string, doc schema.Document) (bool, error) {
	exists, err := i.CollectionExists(ctx, className)
	if err != nil || !exists {
		return false, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("failed to encode document: %w", err)
	}
	result, err := i.exec(ctx, `UPDATE `+i.collectionTable(className)+` SET "data" = ? WHERE "objectId" = ?;`,
		string(data), doc.ObjectID())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// GetDocument returns an object, or nil when none has the id.
func (i *SQLiteInteractor) GetDocument(ctx context.Context, className, objectID string) (schema.Document, error) {
	exists, err := i.CollectionExists(ctx, className)
	if err != nil || !exists {
		return nil, err
	}
	var data string
	err = i.runner().QueryRowContext(ctx,
		`SELECT "data" FROM `+i.collectionTable(className)+` WHERE "objectId" = ?;`, objectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

func decodeDocument(data string) (schema.Document, error) {
	var doc schema.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// SelectDocuments returns the objects matching every equality in where.
func (i *SQLiteInteractor) SelectDocuments(ctx context.Context, className string, where map[string]any) ([]schema.Document, error) {
	exists, err := i.CollectionExists(ctx, className)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []schema.Document{}, nil
	}
	q, err := buildSelect(i.collectionTable(className), where)
	if err != nil {
		return nil, core.NewError(core.KindInvalidQuery, "%s", err.Error())
	}
	i.logger.Debug("Executing SQL SELECT", zap.String("sql", q.sql), zap.Any("params", q.args))

	rows, err := i.runner().QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		i.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", q.sql))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()

	out := []schema.Document{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		if q.matches(doc) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return out, nil
}

// DeleteDocument removes an object and reports whether it existed.
func (i *SQLiteInteractor) DeleteDocument(ctx context.Context, className, objectID string) (bool, error) {
	exists, err := i.CollectionExists(ctx, className)
	if err != nil || !exists {
		return false, err
	}
	result, err := i.exec(ctx, `DELETE FROM `+i.collectionTable(className)+` WHERE "objectId" = ?;`, objectID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// UnsetFields removes fields from every document of a class.
func (i *SQLiteInteractor) UnsetFields(ctx context.Context, className string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	exists, err := i.CollectionExists(ctx, className)
	if err != nil || !exists {
		return err
	}
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		if !schema.FieldNameIsValid(f) {
			return fmt.Errorf("invalid field name %q", f)
		}
		paths = append(paths, quoteLiteral("$."+f))
	}
	_, err = i.exec(ctx, `UPDATE `+i.collectionTable(className)+` SET "data" = json_remove("data", `+strings.Join(paths, ", ")+`);`)
	return err
}

// AddRelation links owningID to relatedID, creating the join table if needed.
func (i *SQLiteInteractor) AddRelation(ctx context.Context, joinName, owningID, relatedID string) error {
	if err := i.CreateCollection(ctx, joinName); err != nil {
		return err
	}
	_, err := i.exec(ctx, `INSERT OR IGNORE INTO `+i.collectionTable(joinName)+` ("owningId", "relatedId") VALUES (?, ?);`,
		owningID, relatedID)
	return err
}

// RemoveRelation unlinks a join row.
func (i *SQLiteInteractor) RemoveRelation(ctx context.Context, joinName, owningID, relatedID string) error {
	exists, err := i.CollectionExists(ctx, joinName)
	if err != nil || !exists {
		return err
	}
	_, err = i.exec(ctx, `DELETE FROM `+i.collectionTable(joinName)+` WHERE "owningId" = ? AND "relatedId" = ?;`,
		owningID, relatedID)
	return err
}

// RelatedIDs lists the related ids of an owning object.
func (i *SQLiteInteractor) RelatedIDs(ctx context.Context, joinName, owningID string) ([]string, error) {
	return i.joinColumn(ctx, joinName, "relatedId", "owningId", owningID)
}

// OwningIDs lists the owning ids linked to a related object.
func (i *SQLiteInteractor) OwningIDs(ctx context.Context, joinName, relatedID string) ([]string, error) {
	return i.joinColumn(ctx, joinName, "owningId", "relatedId", relatedID)
}

func (i *SQLiteInteractor) joinColumn(ctx context.Context, joinName, column, key, value string) ([]string, error) {
	exists, err := i.CollectionExists(ctx, joinName)
	if err != nil || !exists {
		return nil, err
	}
	rows, err := i.runner().QueryContext(ctx,
		`SELECT `+quoteIdentifier(column)+` FROM `+i.collectionTable(joinName)+` WHERE `+quoteIdentifier(key)+` = ?;`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

// Close closes the database handle.
func (i *SQLiteInteractor) Close() error {
	if i.tx != nil {
		return nil
	}
	return i.db.Close()
}
