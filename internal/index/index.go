package index

import (
	"fmt"
	"strconv"

	"github.com/tessellate-io/bucketdb/pkg/datamodel"
)

// InvalidIndexTypeError reports a document value that does not match the
// declared type of its indexed field.
type InvalidIndexTypeError struct {
	Field    string
	Expected datamodel.FieldType
}

func (e *InvalidIndexTypeError) Error() string {
	return fmt.Sprintf("value of indexed field %q is not of declared type %s", e.Field, e.Expected)
}

// Project flattens a document into the column values of a bucket's index
// schema. Only declared fields are inspected; null values are skipped, array
// values are projected element by element with later elements overwriting
// earlier ones (the index stores a single value per field, not a multi-value
// set). A non-null, non-array value of the wrong type fails the projection.
func Project(schema datamodel.IndexSchema, document map[string]any) (datamodel.IndexProjection, error) {
	projection := make(datamodel.IndexProjection, len(schema))
	if len(schema) == 0 {
		return projection, nil
	}
	for field, expected := range schema {
		value, ok := document[field]
		if !ok {
			continue
		}
		if err := projectValue(projection, field, expected, value); err != nil {
			return nil, err
		}
	}
	return projection, nil
}

func projectValue(projection datamodel.IndexProjection, field string, expected datamodel.FieldType, value any) error {
	switch v := value.(type) {
	case nil:
		// Explicit null means "nothing to index", not an error.
		return nil
	case []any:
		for _, element := range v {
			if err := projectValue(projection, field, expected, element); err != nil {
				return err
			}
		}
		return nil
	case bool:
		if expected != datamodel.FieldTypeBoolean {
			return &InvalidIndexTypeError{Field: field, Expected: expected}
		}
		projection[field] = strconv.FormatBool(v)
	case string:
		if expected != datamodel.FieldTypeString {
			return &InvalidIndexTypeError{Field: field, Expected: expected}
		}
		projection[field] = v
	case float64:
		if expected != datamodel.FieldTypeNumber {
			return &InvalidIndexTypeError{Field: field, Expected: expected}
		}
		projection[field] = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		if expected != datamodel.FieldTypeNumber {
			return &InvalidIndexTypeError{Field: field, Expected: expected}
		}
		projection[field] = strconv.Itoa(v)
	case int64:
		if expected != datamodel.FieldTypeNumber {
			return &InvalidIndexTypeError{Field: field, Expected: expected}
		}
		projection[field] = strconv.FormatInt(v, 10)
	case map[string]any:
		return &InvalidIndexTypeError{Field: field, Expected: expected}
	default:
		// Values that cannot appear in a JSON document are not indexable.
		return nil
	}
	return nil
}
