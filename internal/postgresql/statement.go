package postgresql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
)

// The statement builders produce one parameterized statement per write for
// the bucket's current column set: the fixed base columns plus one column per
// declared index field. Every document-derived value, including the row key,
// is bound as a parameter; only sanitized identifiers reach the statement
// text.

func objectTable(bucket string) string {
	return quoteIdentifier(bucket + "_objects")
}

func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// sortedFields returns the schema's field names in a stable order so the
// same bucket always yields the same statement text.
func sortedFields(schema datamodel.IndexSchema) []string {
	fields := make([]string, 0, len(schema))
	for field := range schema {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// BuildInsert returns the INSERT statement and its bound arguments for a new
// object row. The statement returns the generated internal id.
func BuildInsert(
	bucket *datamodel.Bucket,
	key string,
	serialized []byte,
	etag string,
	projection datamodel.IndexProjection,
	modified time.Time) (string, []any, error) {

	fields := sortedFields(bucket.IndexSchema)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(objectTable(bucket.Name))
	b.WriteString(" (objkey, value, etag, lastmodified")
	for _, field := range fields {
		b.WriteString(", ")
		b.WriteString(quoteIdentifier(field))
	}
	b.WriteString(") VALUES ($1, $2, $3, $4")

	args := make([]any, 0, 4+len(fields))
	args = append(args, key, serialized, etag, modified)
	for _, field := range fields {
		b.WriteString(fmt.Sprintf(", $%d", len(args)+1))
		value, err := encodeIndexValue(bucket.IndexSchema[field], projection, field)
		if err != nil {
			return "", nil, err
		}
		args = append(args, value)
	}
	b.WriteString(") RETURNING id")

	return b.String(), args, nil
}

// BuildUpdate returns the UPDATE statement and its bound arguments for an
// existing object row. Every declared index column is set; fields absent from
// the projection are set to an explicit NULL rather than left untouched.
func BuildUpdate(
	bucket *datamodel.Bucket,
	key string,
	serialized []byte,
	etag string,
	projection datamodel.IndexProjection,
	modified time.Time) (string, []any, error) {

	fields := sortedFields(bucket.IndexSchema)

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(objectTable(bucket.Name))
	b.WriteString(" SET value = $1, etag = $2, lastmodified = $3")

	args := make([]any, 0, 4+len(fields))
	args = append(args, serialized, etag, modified)
	for _, field := range fields {
		b.WriteString(fmt.Sprintf(", %s = $%d", quoteIdentifier(field), len(args)+1))
		value, err := encodeIndexValue(bucket.IndexSchema[field], projection, field)
		if err != nil {
			return "", nil, err
		}
		args = append(args, value)
	}
	b.WriteString(fmt.Sprintf(" WHERE objkey = $%d", len(args)+1))
	args = append(args, key)

	return b.String(), args, nil
}

// encodeIndexValue turns a projection entry into its bound parameter. The
// per-type encoding is fixed: booleans become the uppercase textual literal,
// numbers are parsed to an integer before binding, strings pass through.
func encodeIndexValue(fieldType datamodel.FieldType, projection datamodel.IndexProjection, field string) (any, error) {
	raw, ok := projection[field]
	if !ok {
		return nil, nil
	}
	switch fieldType {
	case datamodel.FieldTypeBoolean:
		return strings.ToUpper(raw), nil
	case datamodel.FieldTypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("projected value %q of field %q is not numeric: %w", raw, field, err)
		}
		return int64(f), nil
	default:
		return raw, nil
	}
}
