// ============================================================================
// Pacemaker 跑步階段 - 背景恢復
// ============================================================================
//
// 文件: recovery.go
// 功能: 行程從背景（暫停）恢復時，重放暫存的樣本並補算指標
//
// 恢復流程:
//   1. 依序將暫存樣本套用到驗證器（與即時樣本相同的左折疊）
//   2. 以牆鐘時間重新計算經過時間
//   3. 重新計算配速
//   4. 若距離已達目標且開啟自動停止：立即結束，不發出任何回饋（包括達標播報）
//   5. 否則僅在到期時發出一次配速回饋，並檢查里程檢查點
//
// 注意:
//   暫存樣本一次重放完畢後才評估回饋，因此恢復後最多只會有一則配速回饋，
//   不會補發背景期間錯過的每一則。
//
// ============================================================================

package session

import (
	"time"

	"github.com/ChuLiYu/pacemaker/internal/track"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// Resume 重放背景期間暫存的樣本並補算指標
//
// 參數說明：
//   - batch: 暫存樣本（依到達順序），可以是空的
//   - now: 恢復時的牆鐘時間
//
// 錯誤處理：
//   - ErrNotRunning: 階段不在跑步中，暫存樣本應被丟棄
func (s *Session) Resume(batch []types.PositionSample, now time.Time) (Update, error) {
	if s.state != types.StateRunning {
		return Update{}, ErrNotRunning
	}

	before := s.metrics
	u := Update{}

	for _, sample := range batch {
		reason, added := s.track.Add(sample)
		if reason != track.ReasonAccepted {
			u.Rejected++
			continue
		}
		u.Recovered++
		u.AddedKm += added
	}

	s.refresh(now)
	u.GapSecs = s.metrics.ElapsedSeconds - before.ElapsedSeconds

	s.afterMetrics(&u, now, true)
	return u, nil
}
