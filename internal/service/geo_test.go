package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineZeroDistance(t *testing.T) {
	assert.Equal(t, 0.0, haversineMeters(12.9716, 77.5946, 12.9716, 77.5946))
}

func TestHaversineShortDistance(t *testing.T) {
	// Roughly 111 meters: 0.001 degrees of latitude.
	d := haversineMeters(12.9716, 77.5946, 12.9726, 77.5946)
	assert.InDelta(t, 111.0, d, 1.0)
}

func TestHaversineCityScale(t *testing.T) {
	// Bangalore to Chennai is about 290 km.
	d := haversineMeters(12.9716, 77.5946, 13.0827, 80.2707)
	assert.InDelta(t, 290000, d, 10000)
}
