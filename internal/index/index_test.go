package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
)

func TestProjectEmptySchema(t *testing.T) {
	projection, err := Project(datamodel.IndexSchema{}, map[string]any{"email": "a@b.com", "age": 30.0})
	assert.NoError(t, err)
	assert.Empty(t, projection)
}

func TestProjectScalars(t *testing.T) {
	schema := datamodel.IndexSchema{
		"email":  datamodel.FieldTypeString,
		"age":    datamodel.FieldTypeNumber,
		"active": datamodel.FieldTypeBoolean,
	}
	document := map[string]any{
		"email":   "a@b.com",
		"age":     float64(30),
		"active":  true,
		"comment": "not declared, not projected",
	}

	projection, err := Project(schema, document)
	assert.NoError(t, err)
	assert.Equal(t, datamodel.IndexProjection{
		"email":  "a@b.com",
		"age":    "30",
		"active": "true",
	}, projection)
}

func TestProjectSkipsAbsentAndNullFields(t *testing.T) {
	schema := datamodel.IndexSchema{
		"email": datamodel.FieldTypeString,
		"age":   datamodel.FieldTypeNumber,
	}
	document := map[string]any{
		"email": nil,
	}

	projection, err := Project(schema, document)
	assert.NoError(t, err)
	assert.Empty(t, projection)
}

func TestProjectTypeMismatch(t *testing.T) {
	schema := datamodel.IndexSchema{"age": datamodel.FieldTypeNumber}

	projection, err := Project(schema, map[string]any{"age": "thirty"})
	assert.Nil(t, projection)

	var invalid *InvalidIndexTypeError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, "age", invalid.Field)
	assert.Equal(t, datamodel.FieldTypeNumber, invalid.Expected)
}

func TestProjectNestedObjectFails(t *testing.T) {
	schema := datamodel.IndexSchema{"email": datamodel.FieldTypeString}

	_, err := Project(schema, map[string]any{"email": map[string]any{"home": "a@b.com"}})

	var invalid *InvalidIndexTypeError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, "email", invalid.Field)
}

func TestProjectArrayLastElementWins(t *testing.T) {
	schema := datamodel.IndexSchema{"tag": datamodel.FieldTypeString}

	projection, err := Project(schema, map[string]any{"tag": []any{"a", "b"}})
	assert.NoError(t, err)
	assert.Equal(t, "b", projection["tag"])
}

func TestProjectArrayElementsAreTypeChecked(t *testing.T) {
	schema := datamodel.IndexSchema{"tag": datamodel.FieldTypeString}

	_, err := Project(schema, map[string]any{"tag": []any{"a", 7.0}})

	var invalid *InvalidIndexTypeError
	assert.ErrorAs(t, err, &invalid)
}

func TestProjectFractionalNumbersKeepPrecision(t *testing.T) {
	schema := datamodel.IndexSchema{"score": datamodel.FieldTypeNumber}

	projection, err := Project(schema, map[string]any{"score": 12.5})
	assert.NoError(t, err)
	assert.Equal(t, "12.5", projection["score"])
}
