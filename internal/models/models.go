package models

import (
	"time"
)

// 遥测来源常量
const (
	SourceStream   = "stream"   // 前台流式链路
	SourceBuffered = "buffered" // 后台/离线落盘链路
)

// LocationFix 一次定位采样，生成后不可变
// Timestamp 由 time.Now() 产生，time.Time 自带单调时钟分量
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`   // m/s
	Heading   *float64  `json:"heading,omitempty"` // 度
	Timestamp time.Time `json:"timestamp"`
}

// TripMetadata 行程描述性元数据（路线名、司机、天气等），行程期间可变
type TripMetadata map[string]string

// Clone 返回元数据快照
func (m TripMetadata) Clone() TripMetadata {
	if m == nil {
		return nil
	}
	c := make(TripMetadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// TelemetryRecord 遥测记录，采样器产出、投递路由消费，入队后不可变
type TelemetryRecord struct {
	Fix             LocationFix  `json:"fix"`
	DistanceKm      float64      `json:"distance_km"`
	DurationSeconds int64        `json:"duration_seconds"`
	Metadata        TripMetadata `json:"metadata"`
	Source          string       `json:"source"` // stream | buffered
	Timestamp       time.Time    `json:"timestamp"`
}

// BufferedEntry 本地缓冲表的一行
type BufferedEntry struct {
	ID         int64     `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   *float64  `json:"altitude"`
	Accuracy   *float64  `json:"accuracy"`
	Speed      *float64  `json:"speed"`
	Heading    *float64  `json:"heading"`
	Timestamp  string    `json:"timestamp"` // ISO-8601
	InsertedAt time.Time `json:"inserted_at"`
}

// TripSnapshot 行程只读模型，UI 通过查询或订阅消费
type TripSnapshot struct {
	ID         string       `json:"id,omitempty"`
	Status     string       `json:"status"`
	DistanceKm float64      `json:"distance_km"`
	Duration   string       `json:"duration"` // HH:MM:SS
	Speed      string       `json:"speed"`    // "X.X km/h"
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Metadata   TripMetadata `json:"metadata,omitempty"`
}

// Trip 已完成的行程（历史记录）
type Trip struct {
	ID              string       `json:"id"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         time.Time    `json:"end_time"`
	DistanceKm      float64      `json:"distance_km"`
	DurationSeconds int64        `json:"duration_seconds"`
	EndLatitude     *float64     `json:"end_latitude,omitempty"`
	EndLongitude    *float64     `json:"end_longitude,omitempty"`
	Metadata        TripMetadata `json:"metadata"`
	StartAddress    *Address     `json:"start_address,omitempty"`
	EndAddress      *Address     `json:"end_address,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}
