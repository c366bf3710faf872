package sqlite

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/core/schema"
)

// Internal bookkeeping tables. The schema table shares its name with the
// collection the persistence layer reserves for schemas.
const (
	schemaTable      = persistence.SCHEMA_COLLECTION_NAME
	collectionsTable = "_COLLECTIONS"
	indexesTable     = "_INDEXES"

	// collectionTablePrefix separates class and join tables from the
	// bookkeeping tables above.
	collectionTablePrefix = "c_"
)

// DefaultInteractorOptions returns the options used when none are given.
func DefaultInteractorOptions() *persistence.InteractorOptions {
	return &persistence.InteractorOptions{
		IfNotExists: true,
	}
}

// quoteIdentifier safely quotes an identifier, such as a table or column name.
// Class names of join structures contain colons so every identifier is quoted.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral quotes a string literal for DDL, where parameters are not
// accepted.
func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// tableName returns the unquoted table name with the configured prefix.
func (s *SQLiteInteractor) tableName(baseName string) string {
	return s.options.CollectionPrefix + baseName
}

// getTableName returns the quoted, prefixed table name.
func (s *SQLiteInteractor) getTableName(baseName string) string {
	return quoteIdentifier(s.tableName(baseName))
}

// foldName spells a class, join or index name so that names differing only
// by case stay distinct: SQLite compares identifiers case-insensitively.
// Each upper-case letter becomes "_" plus its lower-case form and "_"
// becomes "__", which keeps the mapping reversible.
func foldName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 8)
	for _, r := range name {
		switch {
		case r == '_':
			sb.WriteString("__")
		case r >= 'A' && r <= 'Z':
			sb.WriteByte('_')
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// collectionTableName returns the unquoted physical table of a class or
// join structure.
func (s *SQLiteInteractor) collectionTableName(name string) string {
	return s.tableName(collectionTablePrefix + foldName(name))
}

// collectionTable returns the quoted physical table of a class or join
// structure.
func (s *SQLiteInteractor) collectionTable(name string) string {
	return quoteIdentifier(s.collectionTableName(name))
}

func (s *SQLiteInteractor) createClause() string {
	if s.options.IfNotExists {
		return "CREATE TABLE IF NOT EXISTS "
	}
	return "CREATE TABLE "
}

// BootstrapSQL returns the DDL of the internal bookkeeping tables.
func (s *SQLiteInteractor) BootstrapSQL() []string {
	create := s.createClause()
	return []string{
		create + s.getTableName(schemaTable) + " (\n" +
			"    \"className\" TEXT NOT NULL PRIMARY KEY,\n" +
			"    \"schema\" TEXT NOT NULL\n);",
		create + s.getTableName(collectionsTable) + " (\n" +
			"    \"name\" TEXT NOT NULL PRIMARY KEY\n);",
		create + s.getTableName(indexesTable) + " (\n" +
			"    \"className\" TEXT NOT NULL,\n" +
			"    \"name\" TEXT NOT NULL,\n" +
			"    \"spec\" TEXT NOT NULL,\n" +
			"    \"isUnique\" INTEGER NOT NULL DEFAULT 0,\n" +
			"    PRIMARY KEY (\"className\", \"name\")\n);",
	}
}

// CreateTableSQL generates the table of a class or of a join structure. A
// class stores each object as a JSON document keyed by objectId. A join
// structure stores (owningId, relatedId) pairs.
func (s *SQLiteInteractor) CreateTableSQL(name string) string {
	table := s.collectionTable(name)
	if schema.IsJoinClass(name) {
		return "CREATE TABLE IF NOT EXISTS " + table + " (\n" +
			"    \"owningId\" TEXT NOT NULL,\n" +
			"    \"relatedId\" TEXT NOT NULL,\n" +
			"    PRIMARY KEY (\"owningId\", \"relatedId\")\n);"
	}
	return "CREATE TABLE IF NOT EXISTS " + table + " (\n" +
		"    \"objectId\" TEXT NOT NULL PRIMARY KEY,\n" +
		"    \"data\" TEXT NOT NULL\n);"
}

// physicalIndexName keeps index names unique across tables.
func (s *SQLiteInteractor) physicalIndexName(className, name string) string {
	return s.collectionTableName(className) + "$" + foldName(name)
}

// jsonPath addresses a top-level field of a stored document.
func jsonPath(field string) string {
	return fmt.Sprintf("json_extract(\"data\", %s)", quoteLiteral("$."+field))
}

// CreateIndexSQL generates the DDL for a declared index. Each key becomes a
// JSON expression over the document column. It returns "" for indexes
// SQLite cannot serve (text and geospatial), which stay declared only.
func (s *SQLiteInteractor) CreateIndexSQL(className, name string, spec schema.IndexSpec, unique bool) (string, error) {
	if len(spec) == 0 {
		return "", fmt.Errorf("index %s has no keys", name)
	}
	parts := make([]string, 0, len(spec))
	for _, key := range spec {
		switch key.Kind() {
		case schema.IndexText, schema.IndexGeo:
			return "", nil
		}
		if !schema.FieldNameIsValid(key.Field) {
			return "", fmt.Errorf("invalid index field %q", key.Field)
		}
		part := jsonPath(key.Field)
		if key.Direction() < 0 {
			part += " DESC"
		}
		parts = append(parts, part)
	}

	var sb strings.Builder
	sb.WriteString("CREATE ")
	if unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX IF NOT EXISTS ")
	sb.WriteString(quoteIdentifier(s.physicalIndexName(className, name)))
	sb.WriteString(" ON " + s.collectionTable(className) + " (")
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(");")
	return sb.String(), nil
}

// DropIndexSQL generates the DDL removing a physical index.
func (s *SQLiteInteractor) DropIndexSQL(className, name string) string {
	return "DROP INDEX IF EXISTS " + quoteIdentifier(s.physicalIndexName(className, name)) + ";"
}

// DropTableSQL generates the DDL removing a table.
func (s *SQLiteInteractor) DropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + s.collectionTable(name) + ";"
}
