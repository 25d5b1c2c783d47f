package spool

// ============================================================================
// 校驗和計算
// 職責：計算與驗證暫存紀錄的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"math"
	"strconv"

	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// CalculateChecksum 計算紀錄的 CRC32 校驗和
//
// 校驗範圍：序號、經緯度、時間戳與精度。
// 浮點數以位元表示參與計算，避免格式化造成的誤差。
func CalculateChecksum(seq uint64, s types.PositionSample) uint32 {
	buf := make([]byte, 0, 64)
	buf = strconv.AppendUint(buf, seq, 10)
	buf = append(buf, '|')
	buf = strconv.AppendUint(buf, math.Float64bits(s.Latitude), 16)
	buf = append(buf, '|')
	buf = strconv.AppendUint(buf, math.Float64bits(s.Longitude), 16)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, s.Timestamp, 10)
	if s.Accuracy != nil {
		buf = append(buf, '|')
		buf = strconv.AppendUint(buf, math.Float64bits(*s.Accuracy), 16)
	}

	return crc32.ChecksumIEEE(buf)
}

// VerifyChecksum 驗證紀錄的校驗和
//
// 返回值：
//   - error: 不相符時回傳 *ChecksumError
func VerifyChecksum(rec Record) error {
	expected := CalculateChecksum(rec.Seq, rec.Sample)
	if rec.Checksum != expected {
		return &ChecksumError{Seq: rec.Seq, Expected: expected, Actual: rec.Checksum}
	}
	return nil
}
