// ============================================================================
// Pacemaker 定位重放來源
// ============================================================================
//
// Package: internal/positioning
// 文件: replay.go
// 功能: 將錄製好的軌跡（GPX 或合成路線）依時間間隔重新送出，模擬即時定位
//
// 運作方式:
//   StartStream 時記下時鐘的當前時間作為基準，每筆樣本依其與第一筆的時間差
//   排程；時鐘走到排程時間才送出，並把時間戳改寫為排程時間。
//   搭配 clock.Scaled 即可用數十倍速重放一次完整的跑步。
//
// 背景模擬:
//   Suspend() 之後的樣本寫入緩衝區（預設記憶體，可換成 spool 檔案），
//   Foreground() 後恢復即時送出；緩衝的樣本由 DrainBuffered 取回。
//
// 冪等性:
//   重複 StartStream 回傳同一個 channel；重複 StopStream 不做任何事。
//
// ============================================================================

package positioning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/clock"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

var log = slog.Default()

// pollInterval 等待時鐘到達排程時間時的實際輪詢間隔
const pollInterval = 10 * time.Millisecond

// Buffer 背景期間樣本的暫存處，*spool.Spool 即符合此介面
type Buffer interface {
	Append(sample types.PositionSample) error
	Drain() ([]types.PositionSample, error)
}

// ReplayConfig 重放設定
type ReplayConfig struct {
	Samples     []types.PositionSample // 依時間排序的樣本
	Clock       clock.Clock            // 排程時鐘，nil 時使用系統時鐘
	Buffer      Buffer                 // 背景緩衝，nil 時使用記憶體
	Permissions Permissions            // 模擬的權限結果
	Buffered    int                    // channel 緩衝大小
}

// Replay 以時鐘排程送出錄製樣本的定位來源
type Replay struct {
	cfg ReplayConfig

	mu        sync.Mutex
	ch        chan types.PositionSample
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	suspended bool
	next      int // 下一筆要送出的樣本索引，重新開始串流時接續
}

// NewReplay 建立重放來源
func NewReplay(cfg ReplayConfig) *Replay {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Buffer == nil {
		cfg.Buffer = NewMemoryBuffer(0)
	}
	if cfg.Buffered <= 0 {
		cfg.Buffered = 16
	}
	return &Replay{cfg: cfg}
}

// RequestPermissions 回傳設定好的權限；沒有前景權限時背景權限一律為 false
func (r *Replay) RequestPermissions(ctx context.Context) (Permissions, error) {
	p := r.cfg.Permissions
	if !p.Foreground {
		p.Background = false
	}
	return p, nil
}

// CurrentFix 以第一筆樣本的位置、時鐘的當前時間作為單次定位
func (r *Replay) CurrentFix(ctx context.Context) (*types.PositionSample, error) {
	if len(r.cfg.Samples) == 0 {
		return nil, ErrNoFix
	}
	fix := r.cfg.Samples[0]
	fix.Timestamp = r.cfg.Clock.Now().UnixMilli()
	return &fix, nil
}

// StartStream 開始依排程送出樣本
//
// 返回值：
//   - <-chan types.PositionSample: 樣本 channel，串流結束或停止時關閉
func (r *Replay) StartStream(ctx context.Context) (<-chan types.PositionSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil {
		return r.ch, nil
	}
	if r.cancel != nil {
		// 上一次串流已自然結束
		r.cancel()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	r.ch = make(chan types.PositionSample, r.cfg.Buffered)
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(streamCtx, r.ch, r.cfg.Clock.Now(), r.next)

	log.Debug("Replay stream started", "samples", len(r.cfg.Samples), "from", r.next)
	return r.ch, nil
}

// StopStream 停止送出樣本並等待排程 goroutine 結束
func (r *Replay) StopStream() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	r.wg.Wait()
	return nil
}

// DrainBuffered 取回背景期間緩衝的樣本並清空
func (r *Replay) DrainBuffered(ctx context.Context) ([]types.PositionSample, error) {
	return r.cfg.Buffer.Drain()
}

// Suspend 模擬行程進入背景：之後的樣本只寫入緩衝
func (r *Replay) Suspend() {
	r.mu.Lock()
	r.suspended = true
	r.mu.Unlock()
	log.Info("Positioning suspended, buffering samples")
}

// Foreground 模擬行程回到前景：恢復即時送出
func (r *Replay) Foreground() {
	r.mu.Lock()
	r.suspended = false
	r.mu.Unlock()
	log.Info("Positioning back in foreground")
}

// Remaining 尚未送出的樣本數
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cfg.Samples) - r.next
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// run 排程迴圈：等到時鐘走到排程時間才送出（或緩衝）下一筆
func (r *Replay) run(ctx context.Context, out chan types.PositionSample, base time.Time, from int) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.ch = nil
		r.mu.Unlock()
		close(out)
	}()

	samples := r.cfg.Samples
	if from >= len(samples) {
		return
	}
	origin := samples[from].Timestamp

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for i := from; i < len(samples); i++ {
		due := base.Add(time.Duration(samples[i].Timestamp-origin) * time.Millisecond)
		for r.cfg.Clock.Now().Before(due) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}

		sample := samples[i]
		sample.Timestamp = due.UnixMilli()

		r.mu.Lock()
		suspended := r.suspended
		r.mu.Unlock()

		if suspended {
			if err := r.cfg.Buffer.Append(sample); err != nil {
				log.Warn("Failed to buffer sample", "error", err)
			}
		} else {
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}

		r.mu.Lock()
		r.next = i + 1
		r.mu.Unlock()
	}

	log.Info("Replay reached the end of the track", "samples", len(samples))
}

// ============================================================================
// 記憶體緩衝
// ============================================================================

// MemoryBuffer 只保留最近 max 筆的記憶體緩衝
type MemoryBuffer struct {
	mu      sync.Mutex
	samples []types.PositionSample
	max     int
}

// NewMemoryBuffer 建立記憶體緩衝；max <= 0 時使用 1000
func NewMemoryBuffer(max int) *MemoryBuffer {
	if max <= 0 {
		max = 1000
	}
	return &MemoryBuffer{max: max}
}

// Append 追加樣本，超過上限時丟棄最舊的
func (b *MemoryBuffer) Append(sample types.PositionSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, sample)
	if len(b.samples) > b.max {
		b.samples = b.samples[len(b.samples)-b.max:]
	}
	return nil
}

// Drain 取回並清空
func (b *MemoryBuffer) Drain() ([]types.PositionSample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	b.samples = nil
	return out, nil
}
