// ============================================================================
// Pacemaker 配速回饋策略
// ============================================================================
//
// Package: internal/feedback
// 文件: policy.go
// 功能: 每次指標更新時決定是否需要配速回饋與里程檢查點回饋
//
// 兩個獨立決策:
//   1. 配速回饋 - 依觸發模式（時間 / 距離）判斷是否到期
//      到期時將游標設為當前值，並依平均配速與目標配速的差距分類：
//      |差距| < 0.1 分/公里 → onPace；較慢 → behind；較快 → ahead
//   2. 檢查點回饋 - 距離跨過新的檢查點整數倍時觸發
//
// 冪等性:
//   游標只增不減，同一門檻永遠不會觸發兩次。
//
// ============================================================================

package feedback

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// OnPaceTolerance 判定為準時的配速誤差（分鐘/公里）
const OnPaceTolerance = 0.1

// 浮點除法的容忍值，避免 0.3/0.1 = 2.9999... 漏掉檢查點
const epsilon = 1e-9

// Status 配速狀態
type Status string

const (
	StatusOnPace Status = "onPace"
	StatusBehind Status = "behind"
	StatusAhead  Status = "ahead"
)

// Kind 回饋種類
type Kind string

const (
	KindPace       Kind = "pace"
	KindCheckpoint Kind = "checkpoint"
	KindGoal       Kind = "goal"
)

// Message 一則要送往語音與顯示的回饋
type Message struct {
	Kind        Kind    `json:"kind"`
	Status      Status  `json:"status,omitempty"`       // 只有配速回饋會設定
	MilestoneKm float64 `json:"milestone_km,omitempty"` // 只有檢查點回饋會設定
	Text        string  `json:"text"`
}

// Policy 配速回饋策略
//
// 不持有游標；游標由跑步階段擁有並以指標傳入。
// 不是執行緒安全的，只應由階段 actor 呼叫。
type Policy struct {
	goal     types.RunGoal
	settings types.RunSettings
	rng      *rand.Rand
}

// NewPolicy 建立回饋策略
//
// 參數：
//   - goal: 本次跑步目標
//   - settings: 使用者設定
//   - rng: 隨機來源，nil 時使用以時間為種子的來源
func NewPolicy(goal types.RunGoal, settings types.RunSettings, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Policy{goal: goal, settings: settings, rng: rng}
}

// Classify 比較當前平均配速與目標配速
//
// 配速數值越大代表越慢。沒有配速時第二個回傳值為 false。
func Classify(current types.Pace, targetPace float64) (Status, bool) {
	if !current.Valid {
		return "", false
	}
	diff := current.MinPerKm - targetPace
	switch {
	case math.Abs(diff) < OnPaceTolerance:
		return StatusOnPace, true
	case diff > 0:
		return StatusBehind, true
	default:
		return StatusAhead, true
	}
}

// Evaluate 對一次指標更新做出兩個獨立決策，必要時推進游標
//
// 返回值：
//   - []Message: 本次觸發的回饋（0 到 2 則）
func (p *Policy) Evaluate(m types.RunMetrics, cursor *types.FeedbackCursor) []Message {
	var out []Message
	if msg, ok := p.EvaluatePace(m, cursor); ok {
		out = append(out, msg)
	}
	if msg, ok := p.EvaluateCheckpoint(m, cursor); ok {
		out = append(out, msg)
	}
	return out
}

// PaceDue 檢查配速回饋是否到期（不修改游標）
func (p *Policy) PaceDue(m types.RunMetrics, cursor types.FeedbackCursor) bool {
	switch p.settings.TriggerMode {
	case types.TriggerDistance:
		return m.DistanceKm-cursor.PaceDistanceKm+epsilon >= p.settings.DistanceIntervalKm
	default:
		return float64(m.ElapsedSeconds-cursor.PaceSeconds) >= p.settings.TimeIntervalSec
	}
}

// EvaluatePace 到期且有配速時觸發配速回饋，並將游標設為當前值
//
// 到期但尚無配速時不觸發也不推進游標，下一次更新再判斷。
func (p *Policy) EvaluatePace(m types.RunMetrics, cursor *types.FeedbackCursor) (Message, bool) {
	if !p.PaceDue(m, *cursor) {
		return Message{}, false
	}

	status, ok := Classify(m.Pace, p.goal.TargetPace())
	if !ok {
		return Message{}, false
	}

	switch p.settings.TriggerMode {
	case types.TriggerDistance:
		cursor.PaceDistanceKm = m.DistanceKm
	default:
		cursor.PaceSeconds = m.ElapsedSeconds
	}

	return Message{
		Kind:   KindPace,
		Status: status,
		Text:   p.Pick(status),
	}, true
}

// EvaluateCheckpoint 距離跨過尚未宣告的檢查點整數倍時觸發
func (p *Policy) EvaluateCheckpoint(m types.RunMetrics, cursor *types.FeedbackCursor) (Message, bool) {
	interval := p.settings.CheckpointKm
	if interval <= 0 {
		return Message{}, false
	}

	milestone := math.Floor(m.DistanceKm/interval+epsilon) * interval
	if milestone <= 0 || milestone <= cursor.CheckpointKm+epsilon {
		return Message{}, false
	}

	cursor.CheckpointKm = milestone
	return Message{
		Kind:        KindCheckpoint,
		MilestoneKm: milestone,
		Text:        CheckpointText(milestone, m.ElapsedSeconds, p.settings.Unit),
	}, true
}

// Pick 從對應語氣與狀態的語句集合中均勻隨機挑選一句
func (p *Policy) Pick(status Status) string {
	phrases := Phrases(p.settings.Personality, status)
	if len(phrases) == 0 {
		return ""
	}
	return phrases[p.rng.Intn(len(phrases))]
}

// CheckpointText 檢查點宣告文字，例如 "1.0 kilometers completed! Time elapsed: 5:00"
func CheckpointText(milestoneKm float64, elapsedSeconds int64, unit types.DistanceUnit) string {
	return fmt.Sprintf("%.1f %s completed! Time elapsed: %s",
		geo.ForDisplay(milestoneKm, unit),
		geo.UnitLabelPlural(unit),
		geo.FormatDuration(float64(elapsedSeconds)))
}

// GoalText 達成目標時的宣告文字
func GoalText(distanceKm float64, elapsedSeconds int64, unit types.DistanceUnit) string {
	return fmt.Sprintf("Goal reached! %.2f %s in %s.",
		geo.ForDisplay(distanceKm, unit),
		geo.UnitLabelPlural(unit),
		geo.FormatDuration(float64(elapsedSeconds)))
}
