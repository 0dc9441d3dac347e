package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourceapi/internal/repository/mocks"
)

func TestOpenAPI(t *testing.T) {
	items, err := NewResource(NewName("item"), itemSchema(), new(mocks.MockRepository))
	require.NoError(t, err)
	boxes, err := NewResource(NewName("box"), itemSchema(), new(mocks.MockRepository))
	require.NoError(t, err)

	doc, err := OpenAPI("resourceapi", "1.0.0", items, boxes)
	require.NoError(t, err)

	for _, p := range []string{"/items", "/items/batch", "/items/{id}", "/boxes", "/boxes/batch", "/boxes/{id}"} {
		assert.NotNil(t, doc.Paths.Find(p), p)
	}

	item := doc.Components.Schemas["Item"].Value
	require.NotNil(t, item)
	assert.Equal(t, []string{"name"}, item.Required)
	assert.True(t, item.Properties["id"].Value.Type.Is("integer"))
	assert.Equal(t, "int64", item.Properties["id"].Value.Format)
	assert.Equal(t, float64(0), item.Properties["age"].Value.Default)
	assert.True(t, item.Properties["age"].Value.Nullable)

	read := doc.Paths.Find("/items/{id}").Get
	assert.Equal(t, "readItem", read.OperationID)
	assert.NotNil(t, read.Responses.Status(404))
	assert.NotNil(t, doc.Paths.Find("/items").Get.Responses.Status(200))
	assert.Equal(t, "listBoxes", doc.Paths.Find("/boxes").Get.OperationID)
	assert.Equal(t, "patchItem", doc.Paths.Find("/items/{id}").Patch.OperationID)
	assert.Equal(t, "replaceItems", doc.Paths.Find("/items/batch").Put.OperationID)
	assert.Equal(t, "patchItems", doc.Paths.Find("/items/batch").Patch.OperationID)
	assert.Empty(t, doc.Components.Schemas["ItemPatch"].Value.Required)
	assert.Equal(t, []string{"name"}, item.Required)

	_, err = OpenAPI("resourceapi", "1.0.0", items, items)
	assert.ErrorContains(t, err, `resource "item" declared twice`)
}
