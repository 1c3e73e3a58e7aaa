package geo

import (
	"math"
	"testing"
	"time"
)

func TestDistanceKm(t *testing.T) {
	// 班加罗尔市区两点，实际大圆距离约 4.66 km
	d := DistanceKm(12.9716, 77.5946, 12.9352, 77.6245)
	if math.Abs(d-4.66) > 0.05 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceKmIdentical(t *testing.T) {
	if d := DistanceKm(12.9716, 77.5946, 12.9716, 77.5946); d != 0 {
		t.Fatalf("identical coordinates should give 0, got %v", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := DistanceKm(-6.2, 106.816, -6.9175, 107.6191)
	b := DistanceKm(-6.9175, 107.6191, -6.2, 106.816)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", a, b)
	}
	// 雅加达到万隆约 115-120 km
	if a < 100 || a > 140 {
		t.Fatalf("unexpected distance: %v", a)
	}
}

func TestCumulativeDistance(t *testing.T) {
	// 累计距离 = 相邻定位两两距离之和
	points := [][2]float64{
		{12.9716, 77.5946},
		{12.9600, 77.6000},
		{12.9500, 77.6100},
		{12.9352, 77.6245},
	}

	var total float64
	for i := 1; i < len(points); i++ {
		total += DistanceKm(points[i-1][0], points[i-1][1], points[i][0], points[i][1])
	}

	direct := DistanceKm(points[0][0], points[0][1], points[3][0], points[3][1])
	if total < direct {
		t.Fatalf("cumulative distance %v shorter than direct %v", total, direct)
	}
}

func TestFormatDuration(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start *time.Time
		end   time.Time
		want  string
	}{
		{"nil start", nil, base, "00:00:00"},
		{"same instant", &base, base, "00:00:00"},
		{"one hour one minute one second", &base, base.Add(3661 * time.Second), "01:01:01"},
		{"ten minutes", &base, base.Add(10 * time.Minute), "00:10:00"},
		{"floors sub-second", &base, base.Add(1500 * time.Millisecond), "00:00:01"},
		{"no 24h wrap", &base, base.Add(25 * time.Hour), "25:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.start, tt.end); got != tt.want {
				t.Fatalf("FormatDuration = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(nil); got != "0 km/h" {
		t.Fatalf("nil speed: got %q", got)
	}

	zero := 0.0
	if got := FormatSpeed(&zero); got != "0 km/h" {
		t.Fatalf("zero speed: got %q", got)
	}

	ten := 10.0
	if got := FormatSpeed(&ten); got != "36.0 km/h" {
		t.Fatalf("10 m/s: got %q", got)
	}
}

func TestSpeedKmh(t *testing.T) {
	if got := SpeedKmh(nil); got != 0 {
		t.Fatalf("nil speed: got %v", got)
	}
	five := 5.0
	if got := SpeedKmh(&five); math.Abs(got-18.0) > 1e-9 {
		t.Fatalf("5 m/s: got %v", got)
	}
}
