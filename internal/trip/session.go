package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/delivery"
	"github.com/langchou/drivertrack/internal/geo"
	"github.com/langchou/drivertrack/internal/geocoder"
	"github.com/langchou/drivertrack/internal/location"
	"github.com/langchou/drivertrack/internal/models"
	"github.com/langchou/drivertrack/internal/repository"
)

// 行程状态常量
const (
	StatusIdle      = "idle"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// 事件常量
const (
	EventStart    = "start"
	EventPause    = "pause"
	EventResume   = "resume"
	EventComplete = "complete"
)

// 行程会话错误
var (
	// ErrAlreadyActive 已有进行中的行程
	ErrAlreadyActive = errors.New("trip already active")
	// ErrNotActive 当前没有可操作的行程
	ErrNotActive = errors.New("no active trip")
	// ErrInvalidTransition 非法的状态转换
	ErrInvalidTransition = errors.New("invalid trip transition")
)

// Options 会话配置
type Options struct {
	SampleInterval   time.Duration // 前台采样间隔
	DeferredInterval time.Duration // 后台批量合并间隔
}

// tripState 进行中行程的内部状态
// 单写者：只有会话命令和采样回调修改它，且都经过 s.mu
type tripState struct {
	ID              string
	StartTime       time.Time
	Mode            location.Mode
	DistanceKm      float64
	DurationSeconds int64
	LastFix         *models.LocationFix
	PausedAt        *time.Time
	PausedTotal     time.Duration
	Metadata        models.TripMetadata

	StartAddress          *models.Address
	startGeocodeRequested bool
}

// Session 行程会话
// 协调采样器生命周期与行程生命周期：idle → active ⇄ paused → completed。
// 同一时刻至多一个行程；completed 为终态，新行程创建新的状态机。
type Session struct {
	logger   *zap.Logger
	opts     Options
	sampler  *location.Sampler
	router   *delivery.Router
	stream   *delivery.StreamChannel
	tripRepo *repository.TripRepository
	geocoder *geocoder.Client

	mu          sync.RWMutex
	machine     *fsm.FSM
	state       *tripState
	subscribers []chan *models.TripSnapshot
}

// NewSession 创建行程会话
func NewSession(
	logger *zap.Logger,
	opts Options,
	sampler *location.Sampler,
	router *delivery.Router,
	stream *delivery.StreamChannel,
	tripRepo *repository.TripRepository,
	geocoderClient *geocoder.Client,
) *Session {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 3 * time.Second
	}
	if opts.DeferredInterval <= 0 {
		opts.DeferredInterval = 5 * time.Second
	}
	return &Session{
		logger:   logger,
		opts:     opts,
		sampler:  sampler,
		router:   router,
		stream:   stream,
		tripRepo: tripRepo,
		geocoder: geocoderClient,
	}
}

// newMachine 创建单个行程的状态机
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StatusIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StatusIdle}, Dst: StatusActive},
			{Name: EventPause, Src: []string{StatusActive}, Dst: StatusPaused},
			{Name: EventResume, Src: []string{StatusPaused}, Dst: StatusActive},
			{Name: EventComplete, Src: []string{StatusActive, StatusPaused}, Dst: StatusCompleted},
		},
		fsm.Callbacks{},
	)
}

// Status 当前行程状态
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() string {
	if s.machine == nil || s.state == nil {
		return StatusIdle
	}
	return s.machine.Current()
}

// Start 开始行程
// 已有进行中的行程时返回 ErrAlreadyActive；
// 权限或定位源失败原样透传给调用方，行程不会进入 active
func (s *Session) Start(ctx context.Context, metadata models.TripMetadata, mode location.Mode) error {
	if mode == "" {
		mode = location.ModeForeground
	}

	s.mu.Lock()
	if s.state != nil {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	machine := newMachine()
	// 先进入 active 再启动采样器：采样器的首条记录必须被接受，
	// 不能因状态机落后而被 handleRecord 丢弃
	if err := machine.Event(ctx, EventStart); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	state := &tripState{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		Mode:      mode,
		Metadata:  metadata.Clone(),
	}
	s.machine = machine
	s.state = state
	s.mu.Unlock()

	if err := s.startSampler(ctx, mode, 0); err != nil {
		s.mu.Lock()
		s.machine = nil
		s.state = nil
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	// 前台模式下打开流式通道，连接失败不影响行程
	if mode == location.ModeForeground && s.stream != nil {
		go func() {
			if err := s.stream.Connect(context.Background()); err != nil {
				s.logger.Warn("Stream channel unavailable, falling back to durable delivery", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Started trip",
		zap.String("trip_id", state.ID),
		zap.String("mode", string(mode)))
	s.publish(snap)
	return nil
}

// Pause 暂停行程
// 暂停期间采样器停止产出，暂停区间不计入时长
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	if err := s.machine.Event(ctx, EventPause); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	now := time.Now()
	s.state.PausedAt = &now
	tripID := s.state.ID
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.sampler.Stop()

	s.logger.Info("Paused trip", zap.String("trip_id", tripID))
	s.publish(snap)
	return nil
}

// Resume 恢复行程
// 累计距离从暂停前延续；暂停期间的位移不计入距离
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	if err := s.machine.Event(ctx, EventResume); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	now := time.Now()
	if s.state.PausedAt != nil {
		s.state.PausedTotal += now.Sub(*s.state.PausedAt)
		s.state.PausedAt = nil
	}
	mode := s.state.Mode
	initial := s.state.DistanceKm
	tripID := s.state.ID
	s.mu.Unlock()

	if err := s.startSampler(ctx, mode, initial); err != nil {
		// 采样器起不来就退回 paused，不让 active 状态悬空
		s.mu.Lock()
		if s.machine != nil {
			_ = s.machine.Event(ctx, EventPause)
			pausedAt := time.Now()
			s.state.PausedAt = &pausedAt
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Resumed trip", zap.String("trip_id", tripID))
	s.publish(snap)
	return nil
}

// SetMode 切换采样模式（应用前后台切换）
// 仅在 active 状态有效；切换失败时行程退回 paused
func (s *Session) SetMode(ctx context.Context, mode location.Mode) error {
	s.mu.Lock()
	if s.state == nil || s.machine.Current() != StatusActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	if s.state.Mode == mode {
		s.mu.Unlock()
		return nil
	}
	s.state.Mode = mode
	initial := s.state.DistanceKm
	tripID := s.state.ID
	s.mu.Unlock()

	s.sampler.Stop()

	if err := s.startSampler(ctx, mode, initial); err != nil {
		s.mu.Lock()
		if s.machine != nil {
			_ = s.machine.Event(ctx, EventPause)
			pausedAt := time.Now()
			s.state.PausedAt = &pausedAt
		}
		s.mu.Unlock()
		return err
	}

	// 流式通道只在前台使用
	if s.stream != nil {
		switch mode {
		case location.ModeBackground:
			_ = s.stream.Close()
		default:
			go func() {
				if err := s.stream.Connect(context.Background()); err != nil {
					s.logger.Warn("Stream channel unavailable after mode switch", zap.Error(err))
				}
			}()
		}
	}

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Switched sampling mode",
		zap.String("trip_id", tripID),
		zap.String("mode", string(mode)))
	s.publish(snap)
	return nil
}

// UpdateField 更新行程元数据字段，仅在 active 状态有效
func (s *Session) UpdateField(field, value string) error {
	s.mu.Lock()
	if s.state == nil || s.machine.Current() != StatusActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	if s.state.Metadata == nil {
		s.state.Metadata = models.TripMetadata{}
	}
	s.state.Metadata[field] = value
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// Complete 完成行程
// 停止采样、落库历史行程、清空实时状态，允许后续重新 Start
func (s *Session) Complete(ctx context.Context, endLocation *models.LocationFix) error {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	if err := s.machine.Event(ctx, EventComplete); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	now := time.Now()
	if s.state.PausedAt != nil {
		s.state.PausedTotal += now.Sub(*s.state.PausedAt)
		s.state.PausedAt = nil
	}

	state := s.state
	if endLocation == nil {
		endLocation = state.LastFix
	}

	durationSeconds := int64((now.Sub(state.StartTime) - state.PausedTotal).Seconds())
	trip := &models.Trip{
		ID:              state.ID,
		StartTime:       state.StartTime,
		EndTime:         now,
		DistanceKm:      state.DistanceKm,
		DurationSeconds: durationSeconds,
		Metadata:        state.Metadata.Clone(),
		StartAddress:    state.StartAddress,
	}
	if endLocation != nil {
		lat := endLocation.Latitude
		lng := endLocation.Longitude
		trip.EndLatitude = &lat
		trip.EndLongitude = &lng
	}

	snap := s.snapshotLocked()
	snap.Status = StatusCompleted

	// 清空实时状态，允许下一次 Start
	s.state = nil
	s.machine = nil
	s.mu.Unlock()

	s.sampler.Stop()
	if s.stream != nil {
		_ = s.stream.Close()
	}

	// 逆地理编码结束地址，best-effort
	if s.geocoder != nil && trip.EndLatitude != nil {
		if addr, err := s.geocoder.ReverseGeocode(ctx, *trip.EndLatitude, *trip.EndLongitude); err != nil {
			s.logger.Warn("Failed to geocode end address",
				zap.String("trip_id", trip.ID),
				zap.Error(err))
		} else {
			trip.EndAddress = addr
		}
	}

	if err := s.tripRepo.Create(ctx, trip); err != nil {
		s.logger.Error("Failed to persist trip", zap.String("trip_id", trip.ID), zap.Error(err))
	} else {
		s.logger.Info("Completed trip",
			zap.String("trip_id", trip.ID),
			zap.Float64("distance_km", trip.DistanceKm),
			zap.Int64("duration_seconds", trip.DurationSeconds))
	}

	s.publish(snap)
	return nil
}

// Shutdown 进程退出时停止采样并关闭流式通道
// 不结束行程本身
func (s *Session) Shutdown() {
	s.sampler.Stop()
	if s.stream != nil {
		_ = s.stream.Close()
	}
}

// Snapshot 行程只读模型
func (s *Session) Snapshot() *models.TripSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe 订阅只读模型更新
func (s *Session) Subscribe() <-chan *models.TripSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *models.TripSnapshot, 10)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// startSampler 以当前行程的累计值启动采样器
func (s *Session) startSampler(ctx context.Context, mode location.Mode, initialKm float64) error {
	return s.sampler.Start(ctx, location.StartOptions{
		Mode:              mode,
		Interval:          s.opts.SampleInterval,
		DeferredInterval:  s.opts.DeferredInterval,
		InitialDistanceKm: initialKm,
		Elapsed:           s.activeElapsed,
		Metadata:          s.metadataSnapshot,
		OnRecord:          s.handleRecord,
	})
}

// activeElapsed 行程有效时长，扣除所有暂停区间
func (s *Session) activeElapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	if s.state == nil {
		return 0
	}
	elapsed := time.Since(s.state.StartTime) - s.state.PausedTotal
	if s.state.PausedAt != nil {
		elapsed -= time.Since(*s.state.PausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

// metadataSnapshot 元数据快照
func (s *Session) metadataSnapshot() models.TripMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil
	}
	return s.state.Metadata.Clone()
}

// handleRecord 消费采样器产出的遥测记录
// 只有 active 状态接受记录：暂停/完成后的迟到记录在此被丢弃
func (s *Session) handleRecord(rec *models.TelemetryRecord) {
	s.mu.Lock()
	if s.state == nil || s.machine.Current() != StatusActive {
		s.mu.Unlock()
		s.logger.Debug("Dropping record outside active trip")
		return
	}

	s.state.DistanceKm = rec.DistanceKm
	s.state.DurationSeconds = rec.DurationSeconds
	fix := rec.Fix
	s.state.LastFix = &fix

	// 首个定位到达后异步解析起点地址，不阻塞采样
	if s.geocoder != nil && s.state.StartAddress == nil && !s.state.startGeocodeRequested {
		s.state.startGeocodeRequested = true
		tripID := s.state.ID
		go s.geocodeStart(tripID, fix.Latitude, fix.Longitude)
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.router.Send(context.Background(), rec, s.stream)
}

// geocodeStart 异步解析起点地址
func (s *Session) geocodeStart(tripID string, lat, lng float64) {
	addr, err := s.geocoder.ReverseGeocode(context.Background(), lat, lng)
	if err != nil {
		s.logger.Warn("Failed to geocode start address",
			zap.String("trip_id", tripID),
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.state != nil && s.state.ID == tripID {
		s.state.StartAddress = addr
	}
	s.mu.Unlock()

	s.logger.Debug("Geocoded start address",
		zap.String("trip_id", tripID),
		zap.String("address", addr.FormattedAddress))
}

// snapshotLocked 构建只读模型，调用方必须持有 s.mu
func (s *Session) snapshotLocked() *models.TripSnapshot {
	if s.state == nil {
		return &models.TripSnapshot{
			Status:   StatusIdle,
			Duration: "00:00:00",
			Speed:    "0 km/h",
		}
	}

	snap := &models.TripSnapshot{
		ID:         s.state.ID,
		Status:     s.machine.Current(),
		DistanceKm: s.state.DistanceKm,
		Duration:   geo.FormatSeconds(int64(s.elapsedLocked().Seconds())),
		Speed:      "0 km/h",
		Metadata:   s.state.Metadata.Clone(),
	}
	if s.state.LastFix != nil {
		snap.Latitude = s.state.LastFix.Latitude
		snap.Longitude = s.state.LastFix.Longitude
		snap.Speed = geo.FormatSpeed(s.state.LastFix.Speed)
	}
	return snap
}

// publish 广播只读模型更新，慢消费者直接跳过
func (s *Session) publish(snap *models.TripSnapshot) {
	s.mu.RLock()
	subscribers := s.subscribers
	s.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
