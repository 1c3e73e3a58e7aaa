package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/langchou/drivertrack/internal/models"
)

// TripRepository 已完成行程的历史仓库
type TripRepository struct {
	db *DB
}

// NewTripRepository 创建行程历史仓库
func NewTripRepository(db *DB) *TripRepository {
	return &TripRepository{db: db}
}

// Create 写入一条已完成的行程
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip) error {
	metadata, err := json.Marshal(trip.Metadata)
	if err != nil {
		return fmt.Errorf("marshal trip metadata: %w", err)
	}

	var startAddr, endAddr interface{}
	if trip.StartAddress != nil {
		if startAddr, err = trip.StartAddress.Value(); err != nil {
			return fmt.Errorf("marshal start address: %w", err)
		}
	}
	if trip.EndAddress != nil {
		if endAddr, err = trip.EndAddress.Value(); err != nil {
			return fmt.Errorf("marshal end address: %w", err)
		}
	}

	query := `
		INSERT INTO trips (id, start_time, end_time, distance_km, duration_seconds, end_latitude, end_longitude, metadata, start_address, end_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.conn.ExecContext(ctx, query,
		trip.ID,
		trip.StartTime,
		trip.EndTime,
		trip.DistanceKm,
		trip.DurationSeconds,
		trip.EndLatitude,
		trip.EndLongitude,
		string(metadata),
		startAddr,
		endAddr,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// List 返回历史行程，最近结束的在前
func (r *TripRepository) List(ctx context.Context, limit int) ([]*models.Trip, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, start_time, end_time, distance_km, duration_seconds, end_latitude, end_longitude, metadata, start_address, end_address, created_at
		FROM trips ORDER BY end_time DESC LIMIT ?
	`
	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip := &models.Trip{}
		var metadata string
		var startAddr, endAddr []byte
		err := rows.Scan(
			&trip.ID,
			&trip.StartTime,
			&trip.EndTime,
			&trip.DistanceKm,
			&trip.DurationSeconds,
			&trip.EndLatitude,
			&trip.EndLongitude,
			&metadata,
			&startAddr,
			&endAddr,
			&trip.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &trip.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal trip metadata: %w", err)
		}
		if len(startAddr) > 0 {
			trip.StartAddress = &models.Address{}
			if err := trip.StartAddress.Scan(startAddr); err != nil {
				return nil, fmt.Errorf("scan start address: %w", err)
			}
		}
		if len(endAddr) > 0 {
			trip.EndAddress = &models.Address{}
			if err := trip.EndAddress.Scan(endAddr); err != nil {
				return nil, fmt.Errorf("scan end address: %w", err)
			}
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}
