// ============================================================================
// Pacemaker 語音派送器 - 非阻塞語音播報
// ============================================================================
//
// Package: internal/speech
// 文件: dispatcher.go
// 功能: 讓 controller 以非阻塞方式送出語音，由單一背景 worker 實際播放
//
// 設計模式:
//   單一 worker 的工作池：
//   1. Announce() 將語句放入容量為 1 的任務通道，永不阻塞
//   2. 通道中尚未播放的舊語句會被新語句取代（最新的優先）
//   3. 送出前先 Stop() 目前的播放，避免聲音重疊
//   4. worker 依序呼叫 Speaker.Speak，失敗只記錄不中斷；被打斷的語句不算失敗
//
// 架構組件:
//   ┌─────────────┐
//   │ Controller  │ --Announce()--> taskCh (cap 1, 最新優先)
//   └─────────────┘                    │
//                                      ↓
//                               ┌────────────┐
//                               │   worker   │ --Speak()--> Speaker
//                               └────────────┘
//                                      │
//                                      ↓
//                                 onResult 回呼（統計）
//
// 優雅關閉:
//   Stop() 流程：
//   1. 標記 stopped，之後的 Announce 回傳 ErrDispatcherClosed
//   2. 取消 worker 的 context 並 Stop() 目前的播放
//   3. 關閉 stopCh，worker 退出
//   4. 等待 worker 結束
//   taskCh 不關閉，Announce 與 Stop 之間不會有向已關閉通道送值的競爭。
//
// ============================================================================

package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/feedback"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrDispatcherClosed 派送器已關閉
	ErrDispatcherClosed = errors.New("speech dispatcher is closed")
	// ErrDispatcherNotStarted 派送器尚未啟動
	ErrDispatcherNotStarted = errors.New("speech dispatcher not started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Utterance 一次要播放的語句
type Utterance struct {
	Text    string
	Kind    feedback.Kind
	Options Options
}

// Result 一次播放的結果
type Result struct {
	Utterance Utterance
	Err       error
	Duration  time.Duration
}

// Dispatcher 語音派送器
type Dispatcher struct {
	speaker  Speaker
	taskCh   chan Utterance
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	onResult func(Result)

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewDispatcher 建立派送器
//
// 參數：
//   - speaker: 實際播放的語音輸出
//   - onResult: 每次播放結束後的回呼，可為 nil
func NewDispatcher(speaker Speaker, onResult func(Result)) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		speaker:  speaker,
		taskCh:   make(chan Utterance, 1),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		onResult: onResult,
	}
}

// Start 啟動背景 worker
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}
	if d.stopped {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go d.run()

	d.started = true
	return nil
}

// Announce 送出一次更新的所有回饋，永不阻塞
//
// 同一次更新的多則回饋合併成一句播放，語音參數依第一則的種類決定。
// 尚未播放的舊語句會被取代，正在播放的語句會被中斷。
func (d *Dispatcher) Announce(msgs ...feedback.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrDispatcherNotStarted
	}
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.mu.Unlock()

	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	u := Utterance{
		Text:    strings.Join(texts, " "),
		Kind:    msgs[0].Kind,
		Options: OptionsFor(msgs[0].Kind),
	}

	// 丟棄尚未播放的舊語句
	select {
	case old := <-d.taskCh:
		log.Debug("Replacing queued utterance", "text", old.Text)
	default:
	}

	select {
	case d.taskCh <- u:
	default:
		// 另一個 Announce 同時搶先放入，保留對方
	}

	if err := d.speaker.Stop(); err != nil {
		log.Debug("Failed to stop current utterance", "error", err)
	}
	return nil
}

// Stop 中斷目前的播放並等待 worker 退出
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.stopped = true
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	if err := d.speaker.Stop(); err != nil {
		log.Debug("Failed to stop current utterance", "error", err)
	}
	close(d.stopCh)
	d.wg.Wait()
}

// run worker 主迴圈
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case u := <-d.taskCh:
			start := time.Now()
			err := d.speaker.Speak(d.ctx, u.Text, u.Options)
			switch {
			case errors.Is(err, context.Canceled):
				log.Debug("Speech interrupted", "kind", u.Kind)
			case err != nil:
				// 語音失敗不影響跑步
				log.Warn("Speech failed", "kind", u.Kind, "error", err)
			}
			if d.onResult != nil {
				d.onResult(Result{Utterance: u, Err: err, Duration: time.Since(start)})
			}
		}
	}
}
