package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/geo"
	"github.com/langchou/drivertrack/internal/models"
)

// Mode 采样模式
type Mode string

const (
	// ModeForeground 前台模式：固定间隔轮询定位源
	ModeForeground Mode = "foreground"
	// ModeBackground 后台模式：注册系统级批量回调
	ModeBackground Mode = "background"
)

// ErrSamplerRunning 采样器已在运行
var ErrSamplerRunning = errors.New("sampler already running")

// RecordFunc 遥测记录回调
type RecordFunc func(rec *models.TelemetryRecord)

// StartOptions 采样启动选项
type StartOptions struct {
	Mode             Mode
	Interval         time.Duration // 前台轮询间隔，默认 3s
	DeferredInterval time.Duration // 后台批量合并间隔，默认 5s

	// InitialDistanceKm 累计距离起点（暂停恢复时延续之前的里程）
	InitialDistanceKm float64
	// Elapsed 行程有效时长（由会话扣除暂停区间后提供）
	Elapsed func() time.Duration
	// Metadata 行程元数据快照
	Metadata func() models.TripMetadata
	// OnRecord 每条遥测记录的消费回调
	OnRecord RecordFunc
}

// Sampler 定位采样器
// 以有界速率产出定位序列，经同一条 GeoMath 路径累计距离/时长后转为遥测记录。
// 前后台两种模式共用 apply，保证相同定位序列下语义一致。
type Sampler struct {
	logger   *zap.Logger
	provider Provider

	mu         sync.Mutex
	running    bool
	mode       Mode
	generation uint64
	stopCh     chan struct{}
	stopWatch  func() error
	wg         sync.WaitGroup

	prevFix  *models.LocationFix
	totalKm  float64
	elapsed  func() time.Duration
	metadata func() models.TripMetadata
	onRecord RecordFunc
}

// NewSampler 创建采样器
func NewSampler(logger *zap.Logger, provider Provider) *Sampler {
	return &Sampler{
		logger:   logger,
		provider: provider,
	}
}

// Start 启动采样
// 权限不足返回 ErrPermissionDenied，定位源不可用返回 ErrProviderUnavailable。
// ctx 只约束同步的权限检查；采样循环的生命周期由 Stop 独占控制，
// 不随调用方（如 HTTP 请求）的 context 取消而终止
func (s *Sampler) Start(ctx context.Context, opts StartOptions) error {
	if opts.Mode == "" {
		opts.Mode = ModeForeground
	}
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.DeferredInterval <= 0 {
		opts.DeferredInterval = 5 * time.Second
	}

	if err := s.checkPermissions(ctx, opts.Mode); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSamplerRunning
	}

	s.generation++
	gen := s.generation
	s.running = true
	s.mode = opts.Mode
	s.stopCh = make(chan struct{})
	s.stopWatch = nil
	s.prevFix = nil
	s.totalKm = opts.InitialDistanceKm
	s.elapsed = opts.Elapsed
	s.metadata = opts.Metadata
	s.onRecord = opts.OnRecord
	s.mu.Unlock()

	switch opts.Mode {
	case ModeBackground:
		stop, err := s.provider.StartUpdates(context.Background(), WatchOptions{DeferredInterval: opts.DeferredInterval}, func(fixes []models.LocationFix) {
			s.applyBatch(gen, fixes)
		})
		if err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return fmt.Errorf("register background updates: %w", ErrProviderUnavailable)
		}
		s.mu.Lock()
		s.stopWatch = stop
		s.mu.Unlock()

	default:
		s.wg.Add(1)
		go s.pollLoop(gen, opts.Interval)
	}

	s.logger.Info("Sampler started",
		zap.String("mode", string(opts.Mode)),
		zap.Uint64("generation", gen),
		zap.Duration("interval", opts.Interval))
	return nil
}

// Stop 停止采样，幂等
// 返回后保证不再产出任何记录：代际号已递增，迟到的回调会被过滤
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.generation++
	close(s.stopCh)
	stopWatch := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	if stopWatch != nil {
		if err := stopWatch(); err != nil {
			s.logger.Warn("Failed to unregister background updates", zap.Error(err))
		}
	}
	s.wg.Wait()

	s.logger.Info("Sampler stopped")
}

// Running 采样器是否在运行
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// checkPermissions 校验定位权限，必要时向用户发起请求
// 后台模式要求前台和后台两级权限都已授予
func (s *Sampler) checkPermissions(ctx context.Context, mode Mode) error {
	perms, err := s.provider.Permissions(ctx)
	if err != nil {
		return fmt.Errorf("query permissions: %w", err)
	}

	if !granted(perms, mode) {
		perms, err = s.provider.RequestPermissions(ctx)
		if err != nil {
			return fmt.Errorf("request permissions: %w", err)
		}
		if !granted(perms, mode) {
			return ErrPermissionDenied
		}
	}
	return nil
}

func granted(perms Permissions, mode Mode) bool {
	if !perms.Foreground {
		return false
	}
	if mode == ModeBackground && !perms.Background {
		return false
	}
	return true
}

// pollLoop 前台轮询循环
// 只认 stopCh：采样不随启动方的 context 结束
func (s *Sampler) pollLoop(gen uint64, interval time.Duration) {
	defer s.wg.Done()

	// 启动时立即采样一次
	s.poll(context.Background(), gen)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.poll(context.Background(), gen)
		}
	}
}

// poll 单次定位采样
// 单次失败只记日志，不中断后续采样
func (s *Sampler) poll(ctx context.Context, gen uint64) {
	fix, err := s.provider.CurrentPosition(ctx)
	if err != nil {
		s.logger.Debug("Failed to fetch position", zap.Error(err))
		return
	}
	s.apply(gen, *fix)
}

// applyBatch 处理一批后台定位，按下发顺序逐条走同一条累计路径
// 系统可能合并、延迟甚至乱序重放定位，这里不做重排和插值
func (s *Sampler) applyBatch(gen uint64, fixes []models.LocationFix) {
	for _, fix := range fixes {
		s.apply(gen, fix)
	}
}

// apply 累计一次定位并产出遥测记录
// 记录的产出在锁内完成：Stop 返回时持锁递增代际号，
// 因此 Stop 之后不可能再有记录流出
func (s *Sampler) apply(gen uint64, fix models.LocationFix) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || gen != s.generation {
		s.logger.Debug("Dropping stale fix",
			zap.Uint64("fix_generation", gen),
			zap.Uint64("current_generation", s.generation))
		return
	}

	// 首个定位不产生距离增量
	if s.prevFix != nil {
		s.totalKm += geo.DistanceKm(
			s.prevFix.Latitude, s.prevFix.Longitude,
			fix.Latitude, fix.Longitude,
		)
	}
	s.prevFix = &fix

	var durationSeconds int64
	if s.elapsed != nil {
		durationSeconds = int64(s.elapsed().Seconds())
	}

	var metadata models.TripMetadata
	if s.metadata != nil {
		metadata = s.metadata()
	}

	source := models.SourceStream
	if s.mode == ModeBackground {
		source = models.SourceBuffered
	}

	rec := &models.TelemetryRecord{
		Fix:             fix,
		DistanceKm:      s.totalKm,
		DurationSeconds: durationSeconds,
		Metadata:        metadata,
		Source:          source,
		Timestamp:       time.Now(),
	}

	// 回调在锁内执行，Stop 因此最多等待一次在途投递，
	// 等待上界是持久化链路的投递超时
	if s.onRecord != nil {
		s.onRecord(rec)
	}
}
