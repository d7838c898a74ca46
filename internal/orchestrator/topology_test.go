package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/farmsense/hub/internal/kriging"
)

func TestZoneContains(t *testing.T) {
	z := Zone{
		ID: "zone-a",
		Bounds: kriging.Bounds{
			MinLat: 36.0, MaxLat: 36.1,
			MinLon: -120.1, MaxLon: -120.0,
		},
	}

	assert.True(t, z.Contains(36.05, -120.05))
	assert.False(t, z.Contains(35.5, -120.05), "outside latitude range")
	assert.False(t, z.Contains(36.05, -119.5), "outside longitude range")
	assert.True(t, z.Contains(36.0, -120.1), "boundary is inclusive")
}

func TestTopologyFieldByID(t *testing.T) {
	top := Topology{
		HubFieldID: "field-1",
		Fields: []Field{
			{ID: "field-1"},
			{ID: "field-2"},
		},
	}

	f, ok := top.FieldByID("field-2")
	assert.True(t, ok)
	assert.Equal(t, "field-2", f.ID)

	_, ok = top.FieldByID("missing")
	assert.False(t, ok)
}

func TestNoTrendSource(t *testing.T) {
	var src TrendSource = NoTrendSource{}
	fn := src.TrendFor(context.Background(), "field-1")
	assert.Nil(t, fn)
}
