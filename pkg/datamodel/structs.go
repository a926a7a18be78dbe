package datamodel

import "time"

// FieldType is the declared scalar type of an indexed field.
type FieldType string

const (
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
)

// Valid reports whether t is one of the three declarable scalar types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeBoolean, FieldTypeString, FieldTypeNumber:
		return true
	}
	return false
}

// IndexSchema maps an indexed field name to its declared scalar type.
type IndexSchema map[string]FieldType

// Bucket is the catalog metadata of a named collection. It is loaded once per
// write and read-only for the duration of the pipeline.
type Bucket struct {
	Name        string
	IndexSchema IndexSchema
}

// IndexProjection maps an indexed field name to the stringified scalar that
// will be written to its column. Absent fields mean "no value to index".
type IndexProjection map[string]string

// WriteRequest is the input of one pipeline execution.
type WriteRequest struct {
	BucketName string
	Key        string
	Value      map[string]any
	// ExpectedEtag is the optional optimistic-concurrency precondition.
	// Empty means unconditional write.
	ExpectedEtag string
	RequestID    string
	Headers      map[string]string
}

// ExistingRow is the row-locked prior state of an object, fetched once at the
// start of the pipeline. Its presence alone decides insert vs. update.
type ExistingRow struct {
	InternalID int64
	Key        string
	Value      []byte
	Etag       string
}

// WriteResult reports a completed write back to the caller.
type WriteResult struct {
	Etag       string
	Inserted   bool
	InternalID int64
	Modified   time.Time
}
