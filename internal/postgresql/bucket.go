package postgresql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
	"go.uber.org/zap"
)

// BucketNotFoundError is returned when the named bucket has no catalog entry.
type BucketNotFoundError struct {
	Name string
}

func (e *BucketNotFoundError) Error() string {
	return fmt.Sprintf("bucket %q does not exist", e.Name)
}

// Bucket and field names become table and column identifiers, so they are
// restricted up front instead of relying on quoting alone.
var validIdentifier = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// LoadBucket returns the catalog metadata for the named bucket. Metadata is
// immutable per bucket lifetime, so hits are served from the ARC cache.
func (c *Connection) LoadBucket(ctx context.Context, name string) (*datamodel.Bucket, error) {
	if cached, ok := c.bucketCache.Get(name); ok {
		return cached.(*datamodel.Bucket), nil
	}

	var rawSchema []byte
	query := `SELECT index_schema FROM buckets WHERE name = $1`
	err := c.Db.QueryRow(ctx, query, name).Scan(&rawSchema)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &BucketNotFoundError{Name: name}
		}
		logEngineError(query, err)
		return nil, err
	}

	var schema datamodel.IndexSchema
	err = json.Unmarshal(rawSchema, &schema)
	if err != nil {
		return nil, fmt.Errorf("corrupt index schema for bucket %q: %w", name, err)
	}

	bucket := &datamodel.Bucket{Name: name, IndexSchema: schema}
	c.bucketCache.Add(name, bucket)
	return bucket, nil
}

// CreateBucket registers a bucket in the catalog and creates its object table
// with one typed column per declared index field.
func (c *Connection) CreateBucket(ctx context.Context, name string, schema datamodel.IndexSchema) error {
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid bucket name %q", name)
	}
	for field, fieldType := range schema {
		if !validIdentifier.MatchString(field) {
			return fmt.Errorf("invalid index field name %q", field)
		}
		if !fieldType.Valid() {
			return fmt.Errorf("invalid index type %q for field %q", fieldType, field)
		}
	}

	rawSchema, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	tx, err := c.Db.Begin(ctx)
	if err != nil {
		return err
	}

	insertQuery := `INSERT INTO buckets (name, index_schema) VALUES ($1, $2)`
	_, err = tx.Exec(ctx, insertQuery, name, rawSchema)
	if err != nil {
		logEngineError(insertQuery, err)
		rollback(ctx, tx, name)
		return err
	}

	_, err = tx.Exec(ctx, buildCreateObjectTable(name, schema))
	if err != nil {
		logEngineError("CREATE TABLE "+objectTable(name), err)
		rollback(ctx, tx, name)
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, bucket string) {
	errR := tx.Rollback(ctx)
	if errR != nil {
		zap.S().Errorf("Error rolling back transaction: %v (bucket: %s)", errR, bucket)
	}
}

func buildCreateObjectTable(name string, schema datamodel.IndexSchema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(objectTable(name))
	b.WriteString(`
	(
		id           BIGSERIAL PRIMARY KEY,
		objkey       TEXT NOT NULL UNIQUE,
		value        JSONB NOT NULL,
		etag         TEXT NOT NULL,
		lastmodified TIMESTAMPTZ NOT NULL`)
	for _, field := range sortedFields(schema) {
		b.WriteString(",\n\t\t")
		b.WriteString(quoteIdentifier(field))
		b.WriteRune(' ')
		b.WriteString(columnType(schema[field]))
	}
	b.WriteString("\n\t)")
	return b.String()
}

func columnType(t datamodel.FieldType) string {
	switch t {
	case datamodel.FieldTypeBoolean:
		return "BOOLEAN"
	case datamodel.FieldTypeNumber:
		return "BIGINT"
	default:
		return "TEXT"
	}
}
