package postgresql

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
)

func TestLoadBucketCachesMetadata(t *testing.T) {
	c, mock := CreateMockConnection(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT index_schema FROM buckets WHERE name = $1`)).
		WithArgs("users").
		WillReturnRows(pgxmock.NewRows([]string{"index_schema"}).AddRow([]byte(`{"email":"string"}`)))

	bucket, err := c.LoadBucket(context.Background(), "users")
	assert.NoError(t, err)
	assert.Equal(t, "users", bucket.Name)
	assert.Equal(t, datamodel.FieldTypeString, bucket.IndexSchema["email"])

	// second load is served from the ARC cache, no further query expected
	cached, err := c.LoadBucket(context.Background(), "users")
	assert.NoError(t, err)
	assert.Same(t, bucket, cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadBucketUnknownBucket(t *testing.T) {
	c, mock := CreateMockConnection(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT index_schema FROM buckets WHERE name = $1`)).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := c.LoadBucket(context.Background(), "ghost")

	var notFound *BucketNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.Name)
}

func TestLockExistingRowAbsent(t *testing.T) {
	c, mock := CreateMockConnection(t)
	bucket := &datamodel.Bucket{Name: "users"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, value, etag FROM "users_objects" WHERE objkey = $1 FOR UPDATE`)).
		WithArgs("u1").
		WillReturnError(pgx.ErrNoRows)

	tx, err := c.Begin(context.Background())
	assert.NoError(t, err)

	row, err := c.LockExistingRow(context.Background(), tx, bucket, "u1")
	assert.NoError(t, err)
	assert.Nil(t, row)
}

func TestLockExistingRowPresent(t *testing.T) {
	c, mock := CreateMockConnection(t)
	bucket := &datamodel.Bucket{Name: "users"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, value, etag FROM "users_objects" WHERE objkey = $1 FOR UPDATE`)).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "value", "etag"}).AddRow(int64(42), []byte(`{"email":"a@b.com"}`), "etag1"))

	tx, err := c.Begin(context.Background())
	assert.NoError(t, err)

	row, err := c.LockExistingRow(context.Background(), tx, bucket, "u1")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), row.InternalID)
	assert.Equal(t, "u1", row.Key)
	assert.Equal(t, "etag1", row.Etag)
}

func TestCreateBucket(t *testing.T) {
	c, mock := CreateMockConnection(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO buckets (name, index_schema) VALUES ($1, $2)`)).
		WithArgs("users", []byte(`{"email":"string"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "users_objects"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	err := c.CreateBucket(context.Background(), "users", datamodel.IndexSchema{"email": datamodel.FieldTypeString})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBucketRejectsBadIdentifiers(t *testing.T) {
	c, _ := CreateMockConnection(t)

	err := c.CreateBucket(context.Background(), `users"; DROP TABLE buckets; --`, nil)
	assert.Error(t, err)

	err = c.CreateBucket(context.Background(), "users", datamodel.IndexSchema{"e mail": datamodel.FieldTypeString})
	assert.Error(t, err)

	err = c.CreateBucket(context.Background(), "users", datamodel.IndexSchema{"email": "uuid"})
	assert.Error(t, err)
}

func TestBuildCreateObjectTableColumnTypes(t *testing.T) {
	schema := datamodel.IndexSchema{
		"email":  datamodel.FieldTypeString,
		"age":    datamodel.FieldTypeNumber,
		"active": datamodel.FieldTypeBoolean,
	}

	ddl := buildCreateObjectTable("users", schema)
	assert.Contains(t, ddl, `"email" TEXT`)
	assert.Contains(t, ddl, `"age" BIGINT`)
	assert.Contains(t, ddl, `"active" BOOLEAN`)
}
