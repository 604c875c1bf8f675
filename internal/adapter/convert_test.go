package adapter

import (
	"errors"
	"testing"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEventType(t *testing.T) {
	cases := map[string]string{
		"create":      "created",
		"Update":      "updated",
		"":            "updated",
		"deletion":    "deleted",
		" destroyed ": "deleted",
		"archived":    "archived",
		"Stage_Moved": "stage_moved",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeEventType(in), in)
	}
}

func TestNormalizeAmount(t *testing.T) {
	s := func(v string) *string { return &v }

	assert.Nil(t, NormalizeAmount(nil))
	assert.Equal(t, "1000.5", *NormalizeAmount(s("1000.50")))
	assert.Equal(t, "1000", *NormalizeAmount(s(" 1000.00 ")))
	assert.Equal(t, "1000", *NormalizeAmount(s("1e3")))
	assert.Equal(t, "n/a", *NormalizeAmount(s("n/a")))
}

func TestCheckResourceAndField(t *testing.T) {
	assert.NoError(t, CheckResource(model.PlatformProcore, "projects", []string{"projects", "bids"}))
	err := CheckResource(model.PlatformProcore, "photos", []string{"projects"})
	assert.True(t, errors.Is(err, interfaces.ErrUnsupportedResource))

	assert.NoError(t, CheckField(model.PlatformHubSpot, "deals", "status", []string{"status"}))
	assert.ErrorIs(t, CheckField(model.PlatformHubSpot, "deals", "amount", []string{"status"}), interfaces.ErrUnsupportedResource)
}
