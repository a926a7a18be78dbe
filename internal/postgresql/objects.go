package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
)

// ObjectNotFoundError is returned by reads of a key with no stored row.
type ObjectNotFoundError struct {
	Bucket string
	Key    string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("no object %q in bucket %q", e.Key, e.Bucket)
}

// LockExistingRow fetches and row-locks any stored row for the key within the
// active transaction. A nil row (and nil error) means no prior row exists.
// The lock is held until the transaction ends, serializing concurrent writers
// of the same key at the engine.
func (c *Connection) LockExistingRow(ctx context.Context, tx pgx.Tx, bucket *datamodel.Bucket, key string) (*datamodel.ExistingRow, error) {
	query := fmt.Sprintf(`SELECT id, value, etag FROM %s WHERE objkey = $1 FOR UPDATE`, objectTable(bucket.Name))

	var row datamodel.ExistingRow
	err := tx.QueryRow(ctx, query, key).Scan(&row.InternalID, &row.Value, &row.Etag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		logEngineError(query, err)
		return nil, err
	}
	row.Key = key
	return &row, nil
}

// InsertObject persists a new row for the key and returns the generated
// internal id.
func (c *Connection) InsertObject(
	ctx context.Context,
	tx pgx.Tx,
	bucket *datamodel.Bucket,
	key string,
	serialized []byte,
	etag string,
	projection datamodel.IndexProjection,
	modified time.Time) (int64, error) {

	query, args, err := BuildInsert(bucket, key, serialized, etag, projection, modified)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, query, args...).Scan(&id)
	if err != nil {
		logEngineError(query, err)
		return 0, err
	}
	return id, nil
}

// UpdateObject rewrites the stored row of the key, replacing the value, the
// etag, the modification time and every declared index column.
func (c *Connection) UpdateObject(
	ctx context.Context,
	tx pgx.Tx,
	bucket *datamodel.Bucket,
	key string,
	serialized []byte,
	etag string,
	projection datamodel.IndexProjection,
	modified time.Time) error {

	query, args, err := BuildUpdate(bucket, key, serialized, etag, projection, modified)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query, args...)
	if err != nil {
		logEngineError(query, err)
		return err
	}
	return nil
}

// GetObject reads the stored value and etag of a key outside any write
// pipeline. Used by the read-back endpoint.
func (c *Connection) GetObject(ctx context.Context, bucket *datamodel.Bucket, key string) ([]byte, string, error) {
	query := fmt.Sprintf(`SELECT value, etag FROM %s WHERE objkey = $1`, objectTable(bucket.Name))

	var value []byte
	var storedEtag string
	err := c.Db.QueryRow(ctx, query, key).Scan(&value, &storedEtag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", &ObjectNotFoundError{Bucket: bucket.Name, Key: key}
		}
		logEngineError(query, err)
		return nil, "", err
	}
	return value, storedEtag, nil
}

// Begin leases a transaction from the pool for one pipeline execution.
func (c *Connection) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.Db.Begin(ctx)
}
