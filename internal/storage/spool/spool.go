package spool

// ============================================================================
// 樣本暫存區核心實作
// 職責：
// 1. 行程暫停（背景化）期間，把定位樣本追加到 JSON-lines 檔案
// 2. 恢復時依寫入順序讀回樣本並清空檔案（讀取即清除）
// 3. 每筆紀錄帶 CRC32 校驗和，損毀的紀錄不會進入軌跡
// 4. 只保留最近的 maxRecords 筆
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ChuLiYu/pacemaker/pkg/types"
)

var log = slog.Default()

// Spool 定位樣本暫存區
type Spool struct {
	mu           sync.Mutex
	file         *os.File
	encoder      *json.Encoder
	path         string
	seq          uint64 // 最後寫入的序號，清空後歸零
	count        int    // 檔案中的紀錄數
	maxRecords   int
	syncOnAppend bool
	closed       bool
}

// Option 暫存區可選設定
type Option func(*Spool)

// WithMaxRecords 設定清空時保留的最大筆數
func WithMaxRecords(n int) Option {
	return func(s *Spool) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

// WithSyncOnAppend 每次追加後強制同步到磁碟
func WithSyncOnAppend(sync bool) Option {
	return func(s *Spool) {
		s.syncOnAppend = sync
	}
}

// ============================================================================
// 公開介面
// ============================================================================

/*
Open 建立或開啟暫存區

行為：
- 檔案不存在時建立新檔，seq 從 0 開始
- 檔案已存在（上次行程被中斷）時掃描既有紀錄，從最後的 seq 繼續
- 以追加模式開啟，寫入不覆蓋既有紀錄
*/
func Open(path string, opts ...Option) (*Spool, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open spool %s: %w", path, err)
	}

	s := &Spool{
		file:       file,
		encoder:    json.NewEncoder(file),
		path:       path,
		maxRecords: DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(s)
	}

	// 既有紀錄：取得最後 seq 與筆數，損毀的尾端留給 Drain 處理
	_ = s.scanLocked(func(rec Record) error {
		s.seq = rec.Seq
		s.count++
		return nil
	})

	return s, nil
}

// Append 追加一筆樣本
//
// 行為：
// - 自動遞增 seq
// - 計算 checksum
// - 寫入檔案（可選：每次同步）
func (s *Spool) Append(sample types.PositionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSpoolClosed
	}

	s.seq++
	rec := Record{
		Seq:      s.seq,
		Sample:   sample,
		Checksum: CalculateChecksum(s.seq, sample),
	}
	if err := s.encoder.Encode(rec); err != nil {
		return fmt.Errorf("append seq=%d: %w", rec.Seq, err)
	}
	s.count++

	if s.syncOnAppend {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync spool: %w", err)
		}
	}
	return nil
}

// Replay 依序重放所有紀錄，不清除檔案
//
// 行為：
// - 驗證每筆 checksum，不相符立即停止並回傳 *ChecksumError
// - handler 回傳錯誤時立即停止
func (s *Spool) Replay(handler RecordHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSpoolClosed
	}

	return s.scanLocked(func(rec Record) error {
		if err := VerifyChecksum(rec); err != nil {
			return err
		}
		return handler(rec)
	})
}

// Drain 讀回所有樣本並清空暫存區
//
// 行為：
// - 依寫入順序回傳，僅保留最後 maxRecords 筆
// - checksum 不相符的紀錄跳過並記錄警告
// - 無法解碼的尾端（寫到一半的紀錄）停止讀取並記錄警告
// - 讀取後截斷檔案，seq 歸零
func (s *Spool) Drain() ([]types.PositionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSpoolClosed
	}

	var samples []types.PositionSample
	skipped := 0
	err := s.scanLocked(func(rec Record) error {
		if err := VerifyChecksum(rec); err != nil {
			skipped++
			log.Warn("Skipping spooled sample", "seq", rec.Seq, "error", err)
			return nil
		}
		samples = append(samples, rec.Sample)
		return nil
	})

	var corrupt *CorruptionError
	if err != nil && !errors.As(err, &corrupt) {
		return nil, err
	}
	if corrupt != nil {
		log.Warn("Spool has a torn tail, keeping records before it", "error", corrupt)
	}

	if len(samples) > s.maxRecords {
		samples = samples[len(samples)-s.maxRecords:]
	}

	if err := s.truncateLocked(); err != nil {
		return nil, err
	}

	log.Debug("Spool drained", "samples", len(samples), "skipped", skipped)
	return samples, nil
}

// Len 目前暫存的紀錄數
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Path 檔案路徑
func (s *Spool) Path() string {
	return s.path
}

// Close 關閉暫存區；關閉後的實例不可再用
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// ============================================================================
// 內部輔助方法（私有）
// ============================================================================

// scanLocked 從頭逐行解碼；假設呼叫者已持有 s.mu
func (s *Spool) scanLocked(fn RecordHandler) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open spool for read: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	line := 0
	for {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return &CorruptionError{Line: line, Cause: err}
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read spool: %w", readErr)
		}
	}
}

// truncateLocked 清空檔案並重設序號；假設呼叫者已持有 s.mu
func (s *Spool) truncateLocked() error {
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate spool: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool: %w", err)
	}
	s.seq = 0
	s.count = 0
	return nil
}
