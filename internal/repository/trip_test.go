package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/langchou/drivertrack/internal/models"
)

func TestTripCreateAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewTripRepository(db)
	ctx := context.Background()

	endLat := 12.9352
	endLng := 77.6245
	start := time.Now().Add(-30 * time.Minute).UTC().Truncate(time.Second)
	end := time.Now().UTC().Truncate(time.Second)

	trip := &models.Trip{
		ID:              uuid.NewString(),
		StartTime:       start,
		EndTime:         end,
		DistanceKm:      4.66,
		DurationSeconds: 1800,
		EndLatitude:     &endLat,
		EndLongitude:    &endLng,
		Metadata: models.TripMetadata{
			"routeName":  "Outer Ring Road",
			"driverName": "Ravi",
			"roadType":   "highway",
		},
		EndAddress: &models.Address{
			FormattedAddress: "Indiranagar, Bengaluru",
			City:             "Bengaluru",
			Country:          "India",
		},
	}

	if err := repo.Create(ctx, trip); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	trips, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(trips) != 1 {
		t.Fatalf("expected 1 trip, got %d", len(trips))
	}

	got := trips[0]
	if got.ID != trip.ID {
		t.Fatalf("ID mismatch: %s vs %s", got.ID, trip.ID)
	}
	if got.DistanceKm != 4.66 || got.DurationSeconds != 1800 {
		t.Fatalf("stats mismatch: %v km, %v s", got.DistanceKm, got.DurationSeconds)
	}
	if got.Metadata["routeName"] != "Outer Ring Road" {
		t.Fatalf("metadata not round-tripped: %v", got.Metadata)
	}
	if got.EndAddress == nil || got.EndAddress.City != "Bengaluru" {
		t.Fatalf("end address not round-tripped: %+v", got.EndAddress)
	}
	if got.EndLatitude == nil || *got.EndLatitude != endLat {
		t.Fatalf("end latitude not round-tripped: %v", got.EndLatitude)
	}
	if got.StartAddress != nil {
		t.Fatalf("expected nil start address, got %+v", got.StartAddress)
	}
}

func TestTripListOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewTripRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		trip := &models.Trip{
			ID:        uuid.NewString(),
			StartTime: now.Add(time.Duration(-i-1) * time.Hour),
			EndTime:   now.Add(time.Duration(-i) * time.Hour),
			Metadata:  models.TripMetadata{"seq": string(rune('a' + i))},
		}
		if err := repo.Create(ctx, trip); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	trips, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(trips) != 3 {
		t.Fatalf("expected 3 trips, got %d", len(trips))
	}
	// 最近结束的在前
	if trips[0].Metadata["seq"] != "a" {
		t.Fatalf("unexpected order: %v", trips[0].Metadata)
	}
}
