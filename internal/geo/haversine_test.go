package geo

import "testing"

func TestHaversineSamePoint(t *testing.T) {
	points := [][2]float64{
		{12.9716, 77.5946},
		{0, 0},
		{-33.8688, 151.2093},
	}
	for _, p := range points {
		if d := Haversine(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("Haversine(%v, %v, same) = %v, want 0", p[0], p[1], d)
		}
	}
}

func TestHaversineSymmetric(t *testing.T) {
	d1 := Haversine(12.9716, 77.5946, 19.0760, 72.8777)
	d2 := Haversine(19.0760, 72.8777, 12.9716, 77.5946)
	if d1 != d2 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		min, max               float64
	}{
		{"bangalore-mumbai", 12.9716, 77.5946, 19.0760, 72.8777, 900, 1100},
		{"london-newyork", 51.5074, -0.1278, 40.7128, -74.0060, 5400, 5700},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Haversine(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if d <= tt.min || d >= tt.max {
				t.Errorf("distance = %.1f km, want within (%v, %v)", d, tt.min, tt.max)
			}
		})
	}
}

func TestHaversineNonNegative(t *testing.T) {
	if d := Haversine(-90, -180, 90, 180); d < 0 {
		t.Errorf("distance must be non-negative, got %v", d)
	}
}
