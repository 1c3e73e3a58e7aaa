package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/langchou/drivertrack/internal/models"
)

// ErrStorageWrite 本地缓冲写入失败
// 调用方必须把该记录视为丢失，不再重试
var ErrStorageWrite = errors.New("storage write failed")

// BufferRepository 未投递遥测的本地缓冲仓库（store-and-forward）
type BufferRepository struct {
	db *DB
}

// NewBufferRepository 创建本地缓冲仓库
func NewBufferRepository(db *DB) *BufferRepository {
	return &BufferRepository{db: db}
}

// Insert 写入一条缓冲记录
// 同步落盘：返回 nil 后即使进程被杀记录也不丢失
func (r *BufferRepository) Insert(ctx context.Context, entry *models.BufferedEntry) error {
	query := `
		INSERT INTO locations (latitude, longitude, altitude, accuracy, speed, heading, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.conn.ExecContext(ctx, query,
		entry.Latitude,
		entry.Longitude,
		entry.Altitude,
		entry.Accuracy,
		entry.Speed,
		entry.Heading,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: insert location: %v", ErrStorageWrite, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List 返回缓冲记录，最新的在前
func (r *BufferRepository) List(ctx context.Context, limit int) ([]*models.BufferedEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, latitude, longitude, altitude, accuracy, speed, heading, timestamp, created_at
		FROM locations ORDER BY id DESC LIMIT ?
	`
	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var entries []*models.BufferedEntry
	for rows.Next() {
		entry := &models.BufferedEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Latitude,
			&entry.Longitude,
			&entry.Altitude,
			&entry.Accuracy,
			&entry.Speed,
			&entry.Heading,
			&entry.Timestamp,
			&entry.InsertedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Count 返回缓冲记录总数
func (r *BufferRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return count, nil
}

// Clear 删除所有缓冲记录
// 仅用于显式维护操作，投递逻辑永远不会自动调用
func (r *BufferRepository) Clear(ctx context.Context) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM locations`); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	return nil
}
