package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/models"
)

func TestPushProviderCurrentPosition(t *testing.T) {
	p := NewPushProvider(zap.NewNop(), allGranted())

	// 没有任何推送时不可用
	if _, err := p.CurrentPosition(context.Background()); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	p.Push(fix(12.9716, 77.5946))
	p.Push(fix(12.9352, 77.6245))

	got, err := p.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("CurrentPosition failed: %v", err)
	}
	if got.Latitude != 12.9352 {
		t.Fatalf("expected latest fix, got %+v", got)
	}
}

func TestPushProviderFillsTimestamp(t *testing.T) {
	p := NewPushProvider(zap.NewNop(), allGranted())

	p.Push(models.LocationFix{Latitude: 1, Longitude: 2})

	got, err := p.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("CurrentPosition failed: %v", err)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("Push should fill missing timestamp")
	}
}

func TestPushProviderBatchCoalescing(t *testing.T) {
	p := NewPushProvider(zap.NewNop(), allGranted())

	var mu sync.Mutex
	var batches [][]models.LocationFix

	stop, err := p.StartUpdates(context.Background(), WatchOptions{DeferredInterval: 30 * time.Millisecond}, func(fixes []models.LocationFix) {
		mu.Lock()
		batches = append(batches, fixes)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("StartUpdates failed: %v", err)
	}
	defer stop()

	// 一个合并窗口内的推送合成一个批次下发
	p.Push(fix(12.9716, 77.5946))
	p.Push(fix(12.9600, 77.6000))
	p.Push(fix(12.9352, 77.6245))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 {
		t.Fatal("no batch delivered")
	}
	var total int
	for _, b := range batches {
		total += len(b)
	}
	if total != 3 {
		t.Fatalf("expected 3 fixes across batches, got %d", total)
	}
	if batches[0][0].Latitude != 12.9716 {
		t.Fatalf("batch order mismatch: %+v", batches[0][0])
	}
}

func TestPushProviderWatchSurvivesContextCancel(t *testing.T) {
	p := NewPushProvider(zap.NewNop(), allGranted())

	batchCh := make(chan []models.LocationFix, 1)
	ctx, cancel := context.WithCancel(context.Background())
	stop, err := p.StartUpdates(ctx, WatchOptions{DeferredInterval: 20 * time.Millisecond}, func(fixes []models.LocationFix) {
		select {
		case batchCh <- fixes:
		default:
		}
	})
	if err != nil {
		t.Fatalf("StartUpdates failed: %v", err)
	}
	defer stop()

	// 注册方的 context 取消不终止批次下发
	cancel()
	p.Push(fix(12.9716, 77.5946))

	select {
	case batch := <-batchCh:
		if len(batch) != 1 || batch[0].Latitude != 12.9716 {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch not delivered after context cancel")
	}
}

func TestPushProviderSingleWatcher(t *testing.T) {
	p := NewPushProvider(zap.NewNop(), allGranted())

	stop, err := p.StartUpdates(context.Background(), WatchOptions{}, func([]models.LocationFix) {})
	if err != nil {
		t.Fatalf("StartUpdates failed: %v", err)
	}

	if _, err := p.StartUpdates(context.Background(), WatchOptions{}, func([]models.LocationFix) {}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable for second watcher, got %v", err)
	}

	if err := stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	// 注销后可以重新注册
	stop2, err := p.StartUpdates(context.Background(), WatchOptions{}, func([]models.LocationFix) {})
	if err != nil {
		t.Fatalf("StartUpdates after stop failed: %v", err)
	}
	stop2()
}
