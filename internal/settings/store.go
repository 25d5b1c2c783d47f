// ============================================================================
// Pacemaker 設定儲存 - 使用者設定持久化
// ============================================================================
//
// Package: internal/settings
// 文件: store.go
// 功能: 以 JSON 檔案保存跑步設定，支援原子寫入與驗證
//
// 原子性保證:
//   寫入流程採用 "寫入臨時檔 + 重命名" 模式：
//   1. 序列化為 JSON
//   2. 寫入 settings.json.tmp
//   3. os.Rename() 原子替換原檔案
//   寫入過程中崩潰不會留下半份設定。
//
// 容錯策略:
//   Get() 永不失敗：檔案不存在、損壞或內容不合法時記錄警告並回傳預設值，
//   跑步不會因為設定讀取失敗而無法開始。需要知道錯誤的呼叫端使用 Load()。
//
// 版本控制:
//   檔案帶 schema_version，目前為 1。缺少的欄位沿用預設值。
//
// ============================================================================

package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/go-playground/validator/v10"
)

var log = slog.Default()

// SchemaVersion 目前的設定檔格式版本
const SchemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 設定檔損壞（JSON 格式錯誤）
	ErrCorruptedSettings = errors.New("settings file is corrupted")
	// 設定檔版本不相容
	ErrIncompatibleVersion = errors.New("settings schema version is incompatible")
	// 未知的設定鍵
	ErrUnknownKey = errors.New("unknown settings key")
)

// ValidationError 設定內容不合法
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid settings: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ============================================================================
// 資料結構定義
// ============================================================================

// file 設定檔的磁碟格式
type file struct {
	SchemaVersion int               `json:"schema_version"`
	Settings      types.RunSettings `json:"settings"`
}

// Store 設定儲存
type Store struct {
	path     string
	mu       sync.Mutex
	validate *validator.Validate
}

// NewStore 建立設定儲存
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		validate: validator.New(),
	}
}

// Path 設定檔路徑
func (s *Store) Path() string {
	return s.path
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Get 讀取設定；任何錯誤都回退到預設值
func (s *Store) Get() types.RunSettings {
	settings, err := s.Load()
	if err != nil {
		log.Warn("Falling back to default settings", "path", s.path, "error", err)
		return types.DefaultSettings()
	}
	return settings
}

// Load 讀取並驗證設定
//
// 返回值：
//   - types.RunSettings: 檔案不存在時為預設值
//   - error: 損壞、版本不符或驗證失敗
func (s *Store) Load() (types.RunSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.DefaultSettings(), nil
		}
		return types.RunSettings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	// 缺少的欄位保留預設值
	f := file{Settings: types.DefaultSettings()}
	if err := json.Unmarshal(raw, &f); err != nil {
		return types.RunSettings{}, fmt.Errorf("%w: %v", ErrCorruptedSettings, err)
	}
	if f.SchemaVersion != SchemaVersion {
		return types.RunSettings{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, f.SchemaVersion, SchemaVersion)
	}
	if err := s.Validate(f.Settings); err != nil {
		return types.RunSettings{}, err
	}
	return f.Settings, nil
}

// Set 驗證後原子寫入設定
func (s *Store) Set(settings types.RunSettings) error {
	if err := s.Validate(settings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(file{SchemaVersion: SchemaVersion, Settings: settings}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings dir: %w", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename settings: %w", err)
	}

	log.Debug("Settings saved", "path", s.path)
	return nil
}

// Update 讀取目前設定、套用修改後寫回
func (s *Store) Update(fn func(*types.RunSettings) error) (types.RunSettings, error) {
	current := s.Get()
	if err := fn(&current); err != nil {
		return types.RunSettings{}, err
	}
	if err := s.Set(current); err != nil {
		return types.RunSettings{}, err
	}
	return current, nil
}

// Reset 刪除設定檔，之後的 Get 回傳預設值
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	return nil
}

// Validate 依 struct tag 檢查設定
func (s *Store) Validate(settings types.RunSettings) error {
	if err := s.validate.Struct(settings); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ============================================================================
// 鍵值設定（CLI 使用）
// ============================================================================

// Keys 可用 SetField 修改的設定鍵
var Keys = []string{
	"feedback_trigger_mode",
	"feedback_time_interval",
	"feedback_distance_interval",
	"checkpoint_interval",
	"auto_stop_on_goal",
	"distance_unit",
	"personality",
}

// SetField 依鍵名修改單一欄位；只做型別轉換，合法性由 Validate 檢查
func SetField(settings *types.RunSettings, key, value string) error {
	value = strings.TrimSpace(value)

	switch key {
	case "feedback_trigger_mode":
		settings.TriggerMode = types.TriggerMode(strings.ToLower(value))
	case "feedback_time_interval":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		settings.TimeIntervalSec = v
	case "feedback_distance_interval":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		settings.DistanceIntervalKm = v
	case "checkpoint_interval":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		settings.CheckpointKm = v
	case "auto_stop_on_goal":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		settings.AutoStopOnGoal = v
	case "distance_unit":
		settings.Unit = types.DistanceUnit(strings.ToLower(value))
	case "personality":
		settings.Personality = types.Personality(value)
	default:
		return fmt.Errorf("%w: %q (valid keys: %s)", ErrUnknownKey, key, strings.Join(Keys, ", "))
	}
	return nil
}
