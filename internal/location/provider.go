package location

import (
	"context"
	"errors"
	"time"

	"github.com/langchou/drivertrack/internal/models"
)

// 定位相关错误
var (
	// ErrPermissionDenied 用户拒绝定位权限，行程无法启动
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrProviderUnavailable 定位源暂时不可用
	ErrProviderUnavailable = errors.New("location provider unavailable")
)

// Permissions 两级定位权限
// 后台跟踪要求两级权限都已授予
type Permissions struct {
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
}

// WatchOptions 后台更新注册选项
type WatchOptions struct {
	// DeferredInterval 批量合并间隔：系统按该间隔合并并批量下发定位
	DeferredInterval time.Duration
}

// BatchFunc 后台批量定位回调
// 一次调用可能只包含一个定位，也可能包含被系统合并、延迟的多个定位
type BatchFunc func(fixes []models.LocationFix)

// Provider 设备定位能力抽象
// 采样器只调用该接口，不关心定位的具体来源
type Provider interface {
	// Permissions 查询当前已授予的权限
	Permissions(ctx context.Context) (Permissions, error)
	// RequestPermissions 请求两级定位权限，阻塞直到用户响应
	RequestPermissions(ctx context.Context) (Permissions, error)
	// CurrentPosition 获取当前位置，受定位源自身超时约束
	CurrentPosition(ctx context.Context) (*models.LocationFix, error)
	// StartUpdates 注册系统级后台更新回调，返回注销函数
	StartUpdates(ctx context.Context, opts WatchOptions, fn BatchFunc) (func() error, error)
}
