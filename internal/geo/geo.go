// Package geo 提供大圓距離、路徑長度、配速與時間格式化等純函式，不持有任何狀態。
package geo

import (
	"fmt"
	"math"

	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// EarthRadiusKm 球面地球半徑（公里）
const EarthRadiusKm = 6371.0

const (
	kmToMiles = 0.621371
	milesToKm = 1.60934
)

// PacePlaceholder 尚無配速時的顯示字串
const PacePlaceholder = "--:--"

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// HaversineKm 以 haversine 公式計算兩點之間的大圓距離（公里）
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	// 浮點誤差可能讓 a 略超過 1
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distance 兩個樣本之間的距離（公里）
//
// 對稱、相同點為 0、永不為負。
func Distance(a, b types.PositionSample) float64 {
	return HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// PathLength 依序累加相鄰樣本的距離，少於兩點時為 0
func PathLength(track []types.PositionSample) float64 {
	if len(track) < 2 {
		return 0
	}

	total := 0.0
	for i := 1; i < len(track); i++ {
		total += Distance(track[i-1], track[i])
	}
	return total
}

// CalculatePace 計算平均配速（分鐘/公里）
//
// 距離或時間不為正時回傳 Valid=false，代表「尚無配速」。
func CalculatePace(distanceKm float64, elapsedSeconds float64) types.Pace {
	if distanceKm <= 0 || elapsedSeconds <= 0 {
		return types.Pace{}
	}
	return types.Pace{MinPerKm: elapsedSeconds / 60 / distanceKm, Valid: true}
}

// FormatDuration 一小時內格式化為 M:SS，否則為 H:MM:SS（無條件捨去到整秒）
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	hours := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, mins, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// FormatPace 將配速格式化為 M:SS，無配速時回傳 "--:--"
func FormatPace(pace types.Pace) string {
	if !pace.Valid || math.IsInf(pace.MinPerKm, 0) || math.IsNaN(pace.MinPerKm) {
		return PacePlaceholder
	}
	minutes := math.Floor(pace.MinPerKm)
	seconds := math.Round((pace.MinPerKm - minutes) * 60)
	// 四捨五入到 60 秒時進位
	if seconds >= 60 {
		minutes++
		seconds -= 60
	}
	return fmt.Sprintf("%d:%02d", int64(minutes), int64(seconds))
}

// KmToMiles 公里轉英里
func KmToMiles(km float64) float64 {
	return km * kmToMiles
}

// MilesToKm 英里轉公里
func MilesToKm(miles float64) float64 {
	return miles * milesToKm
}

// ForDisplay 將內部公里值轉為顯示單位
func ForDisplay(km float64, unit types.DistanceUnit) float64 {
	if unit == types.UnitMiles {
		return KmToMiles(km)
	}
	return km
}

// ToKm 將使用者輸入的單位值轉回公里
func ToKm(value float64, unit types.DistanceUnit) float64 {
	if unit == types.UnitMiles {
		return MilesToKm(value)
	}
	return value
}

// FormatPaceForUnit 依單位格式化配速（分鐘/公里或分鐘/英里）
func FormatPaceForUnit(pace types.Pace, unit types.DistanceUnit) string {
	if unit == types.UnitMiles && pace.Valid {
		return FormatPace(types.Pace{MinPerKm: pace.MinPerKm * milesToKm, Valid: true})
	}
	return FormatPace(pace)
}

// UnitLabel 單位縮寫
func UnitLabel(unit types.DistanceUnit) string {
	if unit == types.UnitMiles {
		return "mi"
	}
	return "km"
}

// UnitLabelPlural 單位全名（複數）
func UnitLabelPlural(unit types.DistanceUnit) string {
	if unit == types.UnitMiles {
		return "miles"
	}
	return "kilometers"
}
