// ============================================================================
// Pacemaker 控制器 - 跑步階段協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 以單一 goroutine (actor) 驅動跑步階段，協調定位、語音、歷史與指標
//
// 架構設計:
//   Session 本身是純狀態機，不是執行緒安全的。控制器是唯一呼叫它的地方，
//   所有事件都經由 channel 進入同一個循環，依序處理：
//   - 定位樣本（positioning.Service 的串流）
//   - 計時器觸發（每秒一次，背景中略過）
//   - 背景 / 前景切換（Suspend / Resume）
//   - 停止請求（Stop 或 ctx 取消）
//
// 背景恢復流程:
//   Resume 時：
//   1. Foreground() - 之後的新樣本改送往串流 channel，在循環中排隊
//   2. DrainBuffered() - 取出背景期間緩衝的樣本（依擷取順序）
//   3. session.Resume() - 重放整批樣本，再以牆鐘時間重算經過時間
//   由於循環在處理恢復時不會讀取串流，整批樣本一定先於新樣本處理
//
// 結束流程:
//   階段轉為 finished 時（手動停止或自動達標）：
//   1. 停止定位串流與計時器
//   2. 寫入一筆歷史紀錄（僅一次）
//   3. 關閉 done channel，之後的事件全部丟棄
//   背景中結束（停止、取消或串流結束）時，先重放緩衝樣本再結束，
//   背景期間的距離不會遺失。
//
// 並發安全:
//   - 只有循環 goroutine 會碰 Session
//   - mu 保護提供給外部讀取的快照與結果
//   - stopOnce 確保停止請求只送出一次
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/clock"
	"github.com/ChuLiYu/pacemaker/internal/feedback"
	"github.com/ChuLiYu/pacemaker/internal/metrics"
	"github.com/ChuLiYu/pacemaker/internal/positioning"
	"github.com/ChuLiYu/pacemaker/internal/session"
	"github.com/ChuLiYu/pacemaker/internal/track"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

var log = slog.Default()

var (
	// ErrForegroundDenied 前景定位權限被拒，無法開始
	ErrForegroundDenied = errors.New("foreground location permission denied")

	// ErrControllerStopped 控制器已結束
	ErrControllerStopped = errors.New("controller stopped")

	// ErrNotStarted 控制器尚未啟動
	ErrNotStarted = errors.New("controller not started")

	// ErrAlreadyStarted 重複啟動
	ErrAlreadyStarted = errors.New("controller already started")
)

// DefaultTickInterval 預設計時器間隔
const DefaultTickInterval = time.Second

// historyTimeout 寫入歷史紀錄的時限
const historyTimeout = 5 * time.Second

// ============================================================================
// 協作者介面
// ============================================================================

// Announcer 接收要播報的回饋，不可阻塞
type Announcer interface {
	Announce(msgs ...feedback.Message) error
}

// Recorder 保存完成的跑步
type Recorder interface {
	Append(ctx context.Context, run types.CompletedRun) error
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Config 控制器配置
type Config struct {
	TickInterval    time.Duration        // 計時器間隔（真實時間），0 表示 DefaultTickInterval
	StopOnStreamEnd bool                 // 定位串流結束時自動停止（重放檔案用）
	OnUpdate        func(session.Update) // 每次更新後呼叫，在循環 goroutine 中執行
}

// Deps 控制器依賴的協作者；Speech、History、Metrics 可為 nil
type Deps struct {
	Positioning positioning.Service
	Speech      Announcer
	History     Recorder
	Metrics     *metrics.Collector
	Clock       clock.Clock
}

// Controller 跑步階段控制器
type Controller struct {
	sess   *session.Session
	config Config
	deps   Deps

	stopCh    chan struct{}   // 停止請求
	suspendCh chan chan error // 轉入背景
	resumeCh  chan chan error // 回到前景
	done      chan struct{}   // 階段結束後關閉
	stopOnce  sync.Once
	loopWg    sync.WaitGroup

	mu       sync.Mutex
	started  bool
	snapshot types.Snapshot
	result   *types.CompletedRun
	track    []types.PositionSample
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立控制器
//
// 參數：
//   - sess: 處於 waiting 狀態的跑步階段
//   - deps: 協作者；Positioning 為必要
//   - config: 控制器配置
func New(sess *session.Session, deps Deps, config Config) (*Controller, error) {
	if sess == nil {
		return nil, errors.New("controller: nil session")
	}
	if deps.Positioning == nil {
		return nil, errors.New("controller: nil positioning service")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	return &Controller{
		sess:      sess,
		config:    config,
		deps:      deps,
		stopCh:    make(chan struct{}),
		suspendCh: make(chan chan error),
		resumeCh:  make(chan chan error),
		done:      make(chan struct{}),
		snapshot:  sess.Snapshot(),
	}, nil
}

// Start 開始跑步
//
// 流程：
//  1. 請求定位權限（前景被拒則失敗，背景被拒僅警告）
//  2. 嘗試取得一次定位作為起點（失敗不阻擋）
//  3. 啟動定位串流，階段轉為 running，啟動事件循環
//
// ctx 決定本次跑步的生命週期：取消時視同手動停止。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	perms, err := c.deps.Positioning.RequestPermissions(ctx)
	if err != nil {
		c.abort()
		return fmt.Errorf("request permissions: %w", err)
	}
	if !perms.Foreground {
		c.abort()
		return ErrForegroundDenied
	}
	if !perms.Background {
		log.Warn("Background location denied, tracking stops while suspended")
	}

	fix, err := c.deps.Positioning.CurrentFix(ctx)
	if err != nil {
		log.Warn("No starting fix", "error", err)
		fix = nil
	}

	samples, err := c.deps.Positioning.StartStream(ctx)
	if err != nil {
		c.abort()
		return fmt.Errorf("start position stream: %w", err)
	}

	u, err := c.sess.Start(c.deps.Clock.Now(), fix)
	if err != nil {
		c.deps.Positioning.StopStream()
		c.abort()
		return err
	}
	if fix != nil {
		c.observeSample(u.Reason)
	}
	c.apply(u)

	goal := c.sess.Goal()
	log.Info("Run started",
		"distance_km", goal.DistanceKm,
		"time_minutes", goal.TimeMinutes,
		"target_pace", goal.TargetPace())

	c.loopWg.Add(1)
	go c.loop(ctx, samples)
	return nil
}

// abort 啟動失敗：讓等待者不會永遠阻塞
func (c *Controller) abort() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.closeDone()
}

// Stop 手動停止，等待循環結束；可重複呼叫
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	<-c.done
	c.loopWg.Wait()
}

// Suspend 模擬宿主轉入背景：計時器暫停，樣本改為緩衝
func (c *Controller) Suspend() error {
	return c.request(c.suspendCh)
}

// Resume 回到前景：重放緩衝樣本並重算經過時間，處理完才返回
func (c *Controller) Resume() error {
	return c.request(c.resumeCh)
}

func (c *Controller) request(ch chan chan error) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	ack := make(chan error, 1)
	select {
	case ch <- ack:
	case <-c.done:
		return ErrControllerStopped
	}
	select {
	case err := <-ack:
		return err
	case <-c.done:
		// 恢復本身可能讓階段結束
		select {
		case err := <-ack:
			return err
		default:
			return ErrControllerStopped
		}
	}
}

// Done 階段結束後關閉
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Result 完成紀錄；尚未結束時為 nil
func (c *Controller) Result() *types.CompletedRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// Snapshot 最新的即時狀態
func (c *Controller) Snapshot() types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Track 結束時的已驗證軌跡；尚未結束時為 nil
func (c *Controller) Track() []types.PositionSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

// ============================================================================
// 事件循環
// ============================================================================

// loop 唯一驅動 Session 的 goroutine
func (c *Controller) loop(ctx context.Context, samples <-chan types.PositionSample) {
	defer c.loopWg.Done()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	suspended := false

	for {
		var (
			u   session.Update
			err error
		)

		select {
		case <-ctx.Done():
			log.Info("Run canceled", "reason", ctx.Err())
			c.stop(suspended)
			return

		case <-c.stopCh:
			c.stop(suspended)
			return

		case sample, ok := <-samples:
			if !ok {
				samples = nil
				log.Info("Position stream ended")
				if c.config.StopOnStreamEnd {
					c.stop(suspended)
					return
				}
				continue
			}
			u, err = c.sess.AddSample(sample, c.deps.Clock.Now())
			if err == nil {
				c.observeSample(u.Reason)
				if u.Reason != track.ReasonAccepted {
					log.Debug("Sample rejected", "reason", u.Reason, "timestamp", sample.Timestamp)
				}
			}

		case <-ticker.C:
			if suspended {
				continue
			}
			u, err = c.sess.Tick(c.deps.Clock.Now())

		case ack := <-c.suspendCh:
			suspended = true
			if s, ok := c.deps.Positioning.(positioning.Suspender); ok {
				s.Suspend()
			}
			log.Info("Run suspended")
			ack <- nil
			continue

		case ack := <-c.resumeCh:
			suspended = false
			u, err = c.resume(ctx)
			if err == nil {
				c.apply(u)
			}
			ack <- err
			if err == nil && u.Finished() {
				c.complete(*u.Completed)
				return
			}
			continue
		}

		if err != nil {
			if errors.Is(err, session.ErrNotRunning) {
				continue
			}
			log.Warn("Event failed", "error", err)
			continue
		}

		c.apply(u)
		if u.Finished() {
			c.complete(*u.Completed)
			return
		}
	}
}

// resume 回到前景並重放緩衝樣本
func (c *Controller) resume(ctx context.Context) (session.Update, error) {
	if s, ok := c.deps.Positioning.(positioning.Suspender); ok {
		s.Foreground()
	}

	batch, err := c.deps.Positioning.DrainBuffered(ctx)
	if err != nil {
		// 緩衝讀取失敗仍要以牆鐘時間追上經過時間
		log.Warn("Drain buffered samples failed", "error", err)
		batch = nil
	}

	u, err := c.sess.Resume(batch, c.deps.Clock.Now())
	if err != nil {
		return u, err
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveRecovery(u.Recovered, u.GapSecs)
	}
	log.Info("Run resumed",
		"recovered", u.Recovered,
		"rejected", u.Rejected,
		"gap_seconds", u.GapSecs,
		"distance_km", u.Snapshot.Metrics.DistanceKm)
	return u, nil
}

// stop 處理停止請求
//
// 背景中結束時先補上緩衝的樣本，不發出回饋；補上的距離若已達標，
// 以達標結束取代手動停止。
func (c *Controller) stop(suspended bool) {
	if suspended {
		drainCtx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		u, err := c.resume(drainCtx)
		cancel()
		if err == nil {
			u.Feedback = nil
			c.apply(u)
			if u.Finished() {
				c.complete(*u.Completed)
				return
			}
		}
	}

	u, err := c.sess.Stop(c.deps.Clock.Now())
	if err != nil {
		// 已經結束的階段不會再產生紀錄
		log.Debug("Stop ignored", "error", err)
		c.closeDone()
		return
	}
	c.apply(u)
	c.complete(*u.Completed)
}

// apply 把一次更新推送給快照、指標、語音與顯示
func (c *Controller) apply(u session.Update) {
	c.mu.Lock()
	c.snapshot = u.Snapshot
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveSnapshot(u.Snapshot)
		for _, msg := range u.Feedback {
			c.deps.Metrics.ObserveFeedback(string(msg.Kind), string(msg.Status))
		}
	}

	if len(u.Feedback) > 0 && c.deps.Speech != nil {
		if err := c.deps.Speech.Announce(u.Feedback...); err != nil {
			log.Warn("Announce failed", "error", err)
		}
	}

	if c.config.OnUpdate != nil {
		c.config.OnUpdate(u)
	}
}

// complete 結束後的收尾：停止串流、保存紀錄、通知等待者
func (c *Controller) complete(run types.CompletedRun) {
	if err := c.deps.Positioning.StopStream(); err != nil {
		log.Warn("Stop position stream failed", "error", err)
	}

	if c.deps.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := c.deps.History.Append(ctx, run); err != nil {
			log.Error("Save run failed", "id", run.ID, "error", err)
		}
		cancel()
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveRunFinished(run)
	}

	log.Info("Run finished",
		"id", run.ID,
		"distance_km", run.ActualDistanceKm,
		"elapsed_seconds", run.ActualTimeSeconds,
		"completed_goal", run.CompletedGoal)

	c.mu.Lock()
	c.result = &run
	c.track = c.sess.Track()
	c.mu.Unlock()
	c.closeDone()
}

func (c *Controller) closeDone() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Controller) observeSample(reason track.Reason) {
	if c.deps.Metrics != nil && reason != "" {
		c.deps.Metrics.ObserveSample(string(reason))
	}
}
