package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestCollections(t *testing.T) {
	defs := Collections()
	require.Len(t, defs, 6)

	seen := map[string]bool{}
	for _, def := range defs {
		assert.False(t, seen[def.Name], "duplicate collection %s", def.Name)
		seen[def.Name] = true
		assert.NotEmpty(t, def.Indexes, def.Name)
		assert.Contains(t, def.Validator, "$jsonSchema", def.Name)
	}
	for _, name := range []string{"Devices", "UsageSessions", "Rentals", "Extensions", "Payments", "Returns"} {
		assert.True(t, seen[name], "missing collection %s", name)
	}
}

func TestUniqueIndexes(t *testing.T) {
	var returnsUnique bool
	for _, model := range ReturnsIndexes {
		if model.Options != nil && model.Options.Unique != nil && *model.Options.Unique {
			assert.Equal(t, bson.D{{Key: "rental_id", Value: 1}}, model.Keys)
			returnsUnique = true
		}
	}
	assert.True(t, returnsUnique, "one return record per rental")

	var pendingUnique bool
	for _, model := range ExtensionsIndexes {
		if model.Options != nil && model.Options.Unique != nil && *model.Options.Unique {
			assert.Equal(t, bson.D{{Key: "status", Value: "pending_payment"}}, model.Options.PartialFilterExpression)
			pendingUnique = true
		}
	}
	assert.True(t, pendingUnique, "one pending extension per rental")
}
