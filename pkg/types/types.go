// Package types 定義了 pacemaker 系統中使用的核心領域模型
package types

import (
	"time"
)

// SessionState 跑步階段狀態
type SessionState string

// 定義階段狀態常數
//
// paused 目前沒有任何轉換會進入，保留給未來的暫停功能，這裡不定義。
const (
	StateWaiting  SessionState = "waiting"  // 等待狀態：目標已設定，尚未開始
	StateRunning  SessionState = "running"  // 跑步中：計時器與定位串流皆啟動
	StateFinished SessionState = "finished" // 結束狀態：終態，不再接受事件
)

// PositionSample 單筆原始定位讀數，建立後不可變
type PositionSample struct {
	Latitude  float64  `json:"latitude"`           // 緯度（度，-90..90）
	Longitude float64  `json:"longitude"`          // 經度（度，-180..180）
	Timestamp int64    `json:"timestamp"`          // Unix 毫秒時間戳
	Accuracy  *float64 `json:"accuracy,omitempty"` // 誤差半徑（公尺），nil 表示未知
}

// Time 回傳樣本的時間
func (p PositionSample) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Accuracy 建立誤差半徑指標的小工具，方便以字面值建構樣本
func Accuracy(meters float64) *float64 {
	return &meters
}

// RunGoal 跑步目標，單次跑步期間不可變
type RunGoal struct {
	DistanceKm  float64 `json:"distance_km"`  // 目標距離（公里）
	TimeMinutes float64 `json:"time_minutes"` // 目標時間（分鐘）
}

// TargetPace 目標配速（分鐘/公里）
func (g RunGoal) TargetPace() float64 {
	return g.TimeMinutes / g.DistanceKm
}

// RunMetrics 即時衍生指標，每次接受樣本或計時器觸發時重算
type RunMetrics struct {
	DistanceKm     float64 `json:"distance_km"`     // 累計距離，單次階段內只增不減
	ElapsedSeconds int64   `json:"elapsed_seconds"` // 經過秒數，只增不減
	Pace           Pace    `json:"pace"`            // 平均配速
}

// Pace 配速（分鐘/公里），Valid 為 false 表示尚無配速
type Pace struct {
	MinPerKm float64 `json:"min_per_km"`
	Valid    bool    `json:"valid"`
}

// FeedbackCursor 回饋游標：記錄各類回饋最後一次觸發時的門檻值
type FeedbackCursor struct {
	PaceSeconds    int64   `json:"pace_seconds"`     // 時間模式：上次配速回饋的經過秒數
	PaceDistanceKm float64 `json:"pace_distance_km"` // 距離模式：上次配速回饋的距離
	CheckpointKm   float64 `json:"checkpoint_km"`    // 上次宣告的里程檢查點
}

// TriggerMode 配速回饋觸發模式
type TriggerMode string

const (
	TriggerTime     TriggerMode = "time"
	TriggerDistance TriggerMode = "distance"
)

// DistanceUnit 顯示用距離單位
type DistanceUnit string

const (
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "miles"
)

// Personality 配速語音的語氣
type Personality string

const (
	PersonalityNeutral    Personality = "Neutral"
	PersonalityMotivating Personality = "Motivating"
	PersonalityGoggins    Personality = "Goggins"
)

// RunSettings 使用者設定
type RunSettings struct {
	TriggerMode        TriggerMode  `json:"feedback_trigger_mode" yaml:"feedback_trigger_mode" validate:"oneof=time distance"`
	TimeIntervalSec    float64      `json:"feedback_time_interval" yaml:"feedback_time_interval" validate:"gte=5"`
	DistanceIntervalKm float64      `json:"feedback_distance_interval" yaml:"feedback_distance_interval" validate:"gte=0.1"`
	CheckpointKm       float64      `json:"checkpoint_interval" yaml:"checkpoint_interval" validate:"gte=0.1"`
	AutoStopOnGoal     bool         `json:"auto_stop_on_goal" yaml:"auto_stop_on_goal"`
	Unit               DistanceUnit `json:"distance_unit" yaml:"distance_unit" validate:"oneof=km miles"`
	Personality        Personality  `json:"personality" yaml:"personality" validate:"oneof=Neutral Motivating Goggins"`
}

// DefaultSettings 預設設定
func DefaultSettings() RunSettings {
	return RunSettings{
		TriggerMode:        TriggerTime,
		TimeIntervalSec:    30,
		DistanceIntervalKm: 0.5,
		CheckpointKm:       1.0,
		AutoStopOnGoal:     true,
		Unit:               UnitKilometers,
		Personality:        PersonalityNeutral,
	}
}

// CompletedRun 完成的跑步紀錄，在 running → finished 時建立且僅建立一次
type CompletedRun struct {
	ID                string    `json:"id"`
	Date              time.Time `json:"date"`
	TargetDistanceKm  float64   `json:"target_distance_km"`
	TargetTimeMinutes float64   `json:"target_time_minutes"`
	ActualDistanceKm  float64   `json:"actual_distance_km"`
	ActualTimeSeconds int64     `json:"actual_time_seconds"`
	AveragePace       Pace      `json:"average_pace"`
	CompletedGoal     bool      `json:"completed_goal"`
}

// Snapshot 每次更新後提供給顯示層的即時狀態
type Snapshot struct {
	State        SessionState `json:"state"`
	Goal         RunGoal      `json:"goal"`
	Metrics      RunMetrics   `json:"metrics"`
	TrackPoints  int          `json:"track_points"`
	StartedAt    time.Time    `json:"started_at"`
	LastFeedback string       `json:"last_feedback,omitempty"`
}

// Progress 完成目標距離的百分比（0..100）
func (s Snapshot) Progress() float64 {
	if s.Goal.DistanceKm <= 0 {
		return 0
	}
	p := s.Metrics.DistanceKm / s.Goal.DistanceKm * 100
	if p > 100 {
		return 100
	}
	return p
}
