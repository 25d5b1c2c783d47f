// ============================================================================
// Pacemaker 跑步階段 - 階段狀態機實現
// ============================================================================
//
// Package: internal/session
// 文件: session.go
// 功能: 管理單次跑步的完整生命週期和狀態轉換
//
// 狀態轉換 (State Machine):
//   Waiting (等待)
//      ↓ Start()：嘗試取得一次定位（失敗不阻擋）
//   Running (跑步中)
//      ↓ 距離 ≥ 目標且開啟自動停止，或 Stop()
//   Finished (結束)
//
// 狀態轉換規則:
//   - Waiting → Running: 通過 Start()
//   - Running → Finished: 通過自動停止或 Stop()，僅產生一筆 CompletedRun
//   - Finished 之後的樣本與計時事件一律回傳 ErrNotRunning，由呼叫端丟棄
//
// 時間計算:
//   經過時間一律以牆鐘時間與開始時間的差計算，不累加計時器次數，
//   因此行程被暫停（背景化）後恢復時仍然正確。
//
// 並發安全:
//   Session 不是執行緒安全的。所有變更都由 controller 的單一 goroutine 串行化。
//
// ============================================================================

package session

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/feedback"
	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/internal/track"
	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/google/uuid"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 目標不合法（非數字、零或負數）
	ErrInvalidGoal = errors.New("invalid run goal")
	// 目前狀態不允許此轉換
	ErrInvalidTransition = errors.New("invalid session transition")
	// 階段不在跑步中，事件應被丟棄
	ErrNotRunning = errors.New("session not running")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Update 單次事件處理的結果
type Update struct {
	Snapshot  types.Snapshot      // 更新後的即時狀態
	Reason    track.Reason        // 樣本驗證結果（僅 AddSample 設定）
	AddedKm   float64             // 本次新增的距離
	Feedback  []feedback.Message  // 本次觸發的回饋
	Completed *types.CompletedRun // 本次轉為 finished 時產生的紀錄

	// 背景恢復資訊（僅 Resume 設定）
	Recovered int   // 重放後被接受的樣本數
	Rejected  int   // 重放後被拒絕的樣本數
	GapSecs   int64 // 經過時間的跳躍量
}

// Finished 本次更新是否讓階段結束
func (u Update) Finished() bool {
	return u.Completed != nil
}

// Session 單次跑步階段
type Session struct {
	state     types.SessionState
	goal      types.RunGoal
	settings  types.RunSettings
	policy    *feedback.Policy
	track     track.Track
	metrics   types.RunMetrics
	cursor    types.FeedbackCursor
	startedAt time.Time

	lastFeedback  string
	goalAnnounced bool
	completed     *types.CompletedRun
	newID         func() string
}

// Option 建立階段時的可選設定
type Option func(*Session)

// WithRand 注入隨機來源，讓語句挑選可預測
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) {
		s.policy = feedback.NewPolicy(s.goal, s.settings, rng)
	}
}

// WithIDGenerator 注入紀錄 ID 產生器
func WithIDGenerator(gen func() string) Option {
	return func(s *Session) {
		s.newID = gen
	}
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewGoal 驗證並建立跑步目標
//
// 返回值：
//   - error: 距離或時間不是正的有限數字時回傳 ErrInvalidGoal
func NewGoal(distanceKm, timeMinutes float64) (types.RunGoal, error) {
	if !positiveFinite(distanceKm) {
		return types.RunGoal{}, fmt.Errorf("%w: distance must be a positive number, got %v", ErrInvalidGoal, distanceKm)
	}
	if !positiveFinite(timeMinutes) {
		return types.RunGoal{}, fmt.Errorf("%w: time must be a positive number, got %v", ErrInvalidGoal, timeMinutes)
	}
	return types.RunGoal{DistanceKm: distanceKm, TimeMinutes: timeMinutes}, nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// New 建立處於 waiting 狀態的階段
//
// 參數說明：
//   - goal: 跑步目標，建立後不可變
//   - settings: 使用者設定（觸發模式、間隔、自動停止等）
//
// 錯誤處理：
//   - ErrInvalidGoal: 目標不合法，不會建立任何階段
func New(goal types.RunGoal, settings types.RunSettings, opts ...Option) (*Session, error) {
	if _, err := NewGoal(goal.DistanceKm, goal.TimeMinutes); err != nil {
		return nil, err
	}

	s := &Session{
		state:    types.StateWaiting,
		goal:     goal,
		settings: settings,
		newID:    uuid.NewString,
	}
	s.policy = feedback.NewPolicy(goal, settings, nil)

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start 開始跑步：waiting → running
//
// 參數說明：
//   - now: 開始時間，之後所有經過時間都以此為基準
//   - fix: 開始時取得的一次定位，nil 表示取得失敗（不阻擋開始）
//
// 錯誤處理：
//   - ErrInvalidTransition: 階段不在 waiting 狀態
func (s *Session) Start(now time.Time, fix *types.PositionSample) (Update, error) {
	if s.state != types.StateWaiting {
		return Update{}, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, s.state)
	}

	s.track.Reset()
	s.metrics = types.RunMetrics{}
	s.cursor = types.FeedbackCursor{}
	s.startedAt = now
	s.state = types.StateRunning

	u := Update{}
	if fix != nil {
		u.Reason, _ = s.track.Add(*fix)
	}
	u.Snapshot = s.Snapshot()
	return u, nil
}

// AddSample 處理一筆即時定位樣本
//
// 樣本被接受時更新距離與經過時間，檢查是否完成，再交由回饋策略判斷。
// 被拒絕的樣本不改變任何指標。
//
// 錯誤處理：
//   - ErrNotRunning: 階段不在跑步中，樣本應被丟棄
func (s *Session) AddSample(sample types.PositionSample, now time.Time) (Update, error) {
	if s.state != types.StateRunning {
		return Update{}, ErrNotRunning
	}

	reason, added := s.track.Add(sample)
	u := Update{Reason: reason, AddedKm: added}
	if reason != track.ReasonAccepted {
		u.Snapshot = s.Snapshot()
		return u, nil
	}

	s.refresh(now)
	s.afterMetrics(&u, now, false)
	return u, nil
}

// Tick 計時器觸發：以牆鐘時間重算經過時間並評估回饋
//
// 錯誤處理：
//   - ErrNotRunning: 階段不在跑步中，事件應被丟棄
func (s *Session) Tick(now time.Time) (Update, error) {
	if s.state != types.StateRunning {
		return Update{}, ErrNotRunning
	}

	s.refresh(now)
	u := Update{}
	s.afterMetrics(&u, now, false)
	return u, nil
}

// Stop 手動停止：running → finished
//
// 錯誤處理：
//   - ErrNotRunning: 已經結束
//   - ErrInvalidTransition: 尚未開始
func (s *Session) Stop(now time.Time) (Update, error) {
	switch s.state {
	case types.StateFinished:
		return Update{}, ErrNotRunning
	case types.StateWaiting:
		return Update{}, fmt.Errorf("%w: cannot stop a session that never started", ErrInvalidTransition)
	}

	s.refresh(now)
	u := Update{Completed: s.finish(now)}
	u.Snapshot = s.Snapshot()
	return u, nil
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// refresh 重算衍生指標；經過時間與距離只增不減
func (s *Session) refresh(now time.Time) {
	elapsed := int64(now.Sub(s.startedAt) / time.Second)
	if elapsed > s.metrics.ElapsedSeconds {
		s.metrics.ElapsedSeconds = elapsed
	}
	if d := s.track.LengthKm(); d > s.metrics.DistanceKm {
		s.metrics.DistanceKm = d
	}
	s.metrics.Pace = geo.CalculatePace(s.metrics.DistanceKm, float64(s.metrics.ElapsedSeconds))
}

// afterMetrics 指標更新後：完成檢查優先，未完成時才評估回饋
//
// recovering 為 true 時（背景恢復），達標自動結束的那次更新不發出任何回饋。
func (s *Session) afterMetrics(u *Update, now time.Time, recovering bool) {
	if s.metrics.DistanceKm >= s.goal.DistanceKm && !s.goalAnnounced {
		s.goalAnnounced = true
		goal := feedback.Message{
			Kind: feedback.KindGoal,
			Text: feedback.GoalText(s.metrics.DistanceKm, s.metrics.ElapsedSeconds, s.settings.Unit),
		}
		if s.settings.AutoStopOnGoal {
			if !recovering {
				u.Feedback = append(u.Feedback, goal)
				s.lastFeedback = goal.Text
			}
			u.Completed = s.finish(now)
			u.Snapshot = s.Snapshot()
			return
		}
		u.Feedback = append(u.Feedback, goal)
	}

	if msg, ok := s.policy.EvaluatePace(s.metrics, &s.cursor); ok {
		u.Feedback = append(u.Feedback, msg)
	}
	if msg, ok := s.policy.EvaluateCheckpoint(s.metrics, &s.cursor); ok {
		u.Feedback = append(u.Feedback, msg)
	}

	if n := len(u.Feedback); n > 0 {
		s.lastFeedback = u.Feedback[n-1].Text
	}
	u.Snapshot = s.Snapshot()
}

// finish 轉為 finished 並產生唯一一筆完成紀錄
func (s *Session) finish(now time.Time) *types.CompletedRun {
	if s.completed != nil {
		return nil
	}
	s.state = types.StateFinished
	s.completed = &types.CompletedRun{
		ID:                s.newID(),
		Date:              now,
		TargetDistanceKm:  s.goal.DistanceKm,
		TargetTimeMinutes: s.goal.TimeMinutes,
		ActualDistanceKm:  s.metrics.DistanceKm,
		ActualTimeSeconds: s.metrics.ElapsedSeconds,
		AveragePace:       s.metrics.Pace,
		CompletedGoal:     s.metrics.DistanceKm >= s.goal.DistanceKm,
	}
	record := *s.completed
	return &record
}

// ============================================================================
// 查詢方法
// ============================================================================

// State 目前狀態
func (s *Session) State() types.SessionState {
	return s.state
}

// Goal 本次目標
func (s *Session) Goal() types.RunGoal {
	return s.goal
}

// Metrics 目前指標
func (s *Session) Metrics() types.RunMetrics {
	return s.metrics
}

// Cursor 目前回饋游標
func (s *Session) Cursor() types.FeedbackCursor {
	return s.cursor
}

// Track 已接受樣本的副本
func (s *Session) Track() []types.PositionSample {
	return s.track.Points()
}

// StartedAt 開始時間
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Snapshot 提供給顯示層的即時狀態
func (s *Session) Snapshot() types.Snapshot {
	return types.Snapshot{
		State:        s.state,
		Goal:         s.goal,
		Metrics:      s.metrics,
		TrackPoints:  s.track.Len(),
		StartedAt:    s.startedAt,
		LastFeedback: s.lastFeedback,
	}
}
