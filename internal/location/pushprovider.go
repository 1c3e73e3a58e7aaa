package location

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/models"
)

// PushProvider 由外部推送定位的 Provider 实现
// 设备桥接端通过 Push 上报定位；前台轮询读取最新定位，
// 后台模式按合并间隔把推送攒成批次下发，模拟系统级批量回调
type PushProvider struct {
	logger  *zap.Logger
	granted Permissions

	mu      sync.Mutex
	latest  *models.LocationFix
	pending []models.LocationFix

	watching bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPushProvider 创建推送式定位源
func NewPushProvider(logger *zap.Logger, granted Permissions) *PushProvider {
	return &PushProvider{
		logger:  logger,
		granted: granted,
	}
}

// Push 上报一次定位
func (p *PushProvider) Push(fix models.LocationFix) {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	p.mu.Lock()
	p.latest = &fix
	if p.watching {
		p.pending = append(p.pending, fix)
	}
	p.mu.Unlock()

	p.logger.Debug("Fix pushed",
		zap.Float64("latitude", fix.Latitude),
		zap.Float64("longitude", fix.Longitude))
}

// Permissions 查询已授予的权限
func (p *PushProvider) Permissions(ctx context.Context) (Permissions, error) {
	return p.granted, nil
}

// RequestPermissions 请求权限
// 推送式定位源的权限在部署时固定，请求直接返回当前授予状态
func (p *PushProvider) RequestPermissions(ctx context.Context) (Permissions, error) {
	return p.granted, nil
}

// CurrentPosition 返回最近一次推送的定位
func (p *PushProvider) CurrentPosition(ctx context.Context) (*models.LocationFix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.latest == nil {
		return nil, ErrProviderUnavailable
	}
	fix := *p.latest
	return &fix, nil
}

// StartUpdates 注册批量更新回调
// 按 DeferredInterval 合并推送，每次下发自上次以来的全部定位。
// 注册后的批次下发只由返回的注销函数终止
func (p *PushProvider) StartUpdates(ctx context.Context, opts WatchOptions, fn BatchFunc) (func() error, error) {
	interval := opts.DeferredInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	p.mu.Lock()
	if p.watching {
		p.mu.Unlock()
		return nil, ErrProviderUnavailable
	}
	p.watching = true
	p.pending = nil
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.mu.Lock()
				batch := p.pending
				p.pending = nil
				p.mu.Unlock()

				if len(batch) > 0 {
					fn(batch)
				}
			}
		}
	}()

	stop := func() error {
		p.mu.Lock()
		if !p.watching {
			p.mu.Unlock()
			return nil
		}
		p.watching = false
		close(p.stopCh)
		p.pending = nil
		p.mu.Unlock()

		p.wg.Wait()
		return nil
	}

	return stop, nil
}
