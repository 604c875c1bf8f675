package service

import (
	"encoding/json"
	"testing"

	"SyncHub/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sp(s string) *string { return &s }

func TestDetectChanges_NewEntityYieldsSingleCreated(t *testing.T) {
	incoming := &model.RemoteEntity{
		Platform: model.PlatformProcore,
		Resource: "projects",
		NativeID: "P123",
		Name:     "Oak Street",
		Fields:   model.FieldMap{"status": sp("active"), "city": sp("Austin")},
	}

	changes := DetectChanges(nil, incoming, []string{"status", "city"})
	require.Len(t, changes, 1)
	c := changes[0]
	assert.Equal(t, model.ChangeTypeCreated, c.ChangeType)
	assert.Equal(t, "procore.projects", c.EntityType)
	assert.Equal(t, "P123", c.NativeID)
	assert.Nil(t, c.FieldName)

	var snapshot model.RemoteEntity
	require.NoError(t, json.Unmarshal(c.FullSnapshot, &snapshot))
	assert.Equal(t, "Oak Street", snapshot.Name)
	assert.Equal(t, "active", model.Stringify(snapshot.Fields.Get("status")))
}

func TestDetectChanges_TrackedFieldsOnly(t *testing.T) {
	existing := &model.RemoteEntity{
		Platform: model.PlatformProcore, Resource: "projects", NativeID: "P123",
		Fields: model.FieldMap{"status": sp("active"), "phone": sp("111")},
	}
	incoming := &model.RemoteEntity{
		Platform: model.PlatformProcore, Resource: "projects", NativeID: "P123",
		Fields: model.FieldMap{"status": sp("closed"), "phone": sp("222")},
	}

	changes := DetectChanges(existing, incoming, []string{"status"})
	require.Len(t, changes, 1)
	c := changes[0]
	assert.Equal(t, model.ChangeTypeFieldChanged, c.ChangeType)
	assert.Equal(t, "status", *c.FieldName)
	assert.Equal(t, "active", *c.OldValue)
	assert.Equal(t, "closed", *c.NewValue)
	assert.Empty(t, c.FullSnapshot)
}

func TestDetectChanges_NilAndAbsentAreEqual(t *testing.T) {
	existing := &model.RemoteEntity{
		Platform: model.PlatformHubSpot, Resource: "deals", NativeID: "D45",
		Fields: model.FieldMap{"amount": nil},
	}
	incoming := &model.RemoteEntity{
		Platform: model.PlatformHubSpot, Resource: "deals", NativeID: "D45",
		Fields: model.FieldMap{"city": sp("")},
	}
	assert.Empty(t, DetectChanges(existing, incoming, []string{"amount", "city", "zip"}))
}

func TestDetectChanges_ValueClearedRecordsEmptyString(t *testing.T) {
	existing := &model.RemoteEntity{
		Platform: model.PlatformHubSpot, Resource: "deals", NativeID: "D45",
		Fields: model.FieldMap{"city": sp("Austin")},
	}
	incoming := &model.RemoteEntity{
		Platform: model.PlatformHubSpot, Resource: "deals", NativeID: "D45",
		Fields: model.FieldMap{},
	}
	changes := DetectChanges(existing, incoming, []string{"city"})
	require.Len(t, changes, 1)
	assert.Equal(t, "Austin", *changes[0].OldValue)
	assert.Equal(t, "", *changes[0].NewValue)
}

func TestDetectChanges_NilIncoming(t *testing.T) {
	assert.Nil(t, DetectChanges(nil, nil, []string{"status"}))
}
