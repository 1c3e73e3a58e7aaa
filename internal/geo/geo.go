package geo

import (
	"fmt"
	"math"
	"time"
)

// EarthRadiusKm 地球半径
const EarthRadiusKm = 6371.0

// DistanceKm 计算两点间的大圆距离（Haversine 公式），单位公里
// 纯函数，坐标相同时返回 0
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := deg2rad(lat2 - lat1)
	dLng := deg2rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(lat1))*math.Cos(deg2rad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

func deg2rad(deg float64) float64 {
	return deg * math.Pi / 180
}

// FormatDuration 格式化时长为 HH:MM:SS
// start 为 nil 时返回 "00:00:00"；向下取整到秒；小时数不按 24 取模
func FormatDuration(start *time.Time, end time.Time) string {
	if start == nil {
		return "00:00:00"
	}
	diff := int64(end.Sub(*start).Seconds())
	if diff < 0 {
		diff = 0
	}
	return FormatSeconds(diff)
}

// FormatSeconds 将秒数格式化为 HH:MM:SS
func FormatSeconds(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hrs, mins, secs)
}

// FormatSpeed 将 m/s 速度格式化为 "X.X km/h"
// 速度缺失或为 0 时固定返回 "0 km/h"，保持只读模型稳定
func FormatSpeed(metersPerSecond *float64) string {
	if metersPerSecond == nil || *metersPerSecond == 0 {
		return "0 km/h"
	}
	return fmt.Sprintf("%.1f km/h", *metersPerSecond*3.6)
}

// SpeedKmh 将 m/s 速度换算为 km/h，缺失时返回 0
func SpeedKmh(metersPerSecond *float64) float64 {
	if metersPerSecond == nil {
		return 0
	}
	return *metersPerSecond * 3.6
}
