// Package geo は座標間の距離計算と半径判定を提供する。
// 全ての関数は純粋関数であり、同一入力に対して常に同一の結果を返す。
package geo

import (
	"fmt"
	"math"

	"github.com/hitoshi/spotter/internal/model"
)

// earthRadiusKm は地球の平均半径（km）。haversine計算に使用する。
const earthRadiusKm = 6371.0

// Point は緯度経度の座標を表す。
type Point struct {
	Lat float64
	Lon float64
}

// Validate は座標が有効範囲内であるかを検証する。
// 緯度は-90〜90、経度は-180〜180の範囲で、NaN・無限大は拒否する。
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return model.NewInvalidCoordinatesError("latitude is not a finite number")
	}
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return model.NewInvalidCoordinatesError("longitude is not a finite number")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return model.NewInvalidCoordinatesError(fmt.Sprintf("latitude out of range: %v", p.Lat))
	}
	if p.Lon < -180 || p.Lon > 180 {
		return model.NewInvalidCoordinatesError(fmt.Sprintf("longitude out of range: %v", p.Lon))
	}
	return nil
}

// DistanceKm は2点間の大円距離（km）をhaversine公式で計算する。
// 戻り値は常に非負。入力座標が無効な場合はValidationErrorを返す。
func DistanceKm(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon

	// 丸め誤差でhが1を僅かに超えるとAsinがNaNを返すためクランプする
	if h > 1 {
		h = 1
	}

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h)), nil
}

// IsWithinRadius はcandidateがoriginからradiusKm以内にあるかを判定する。
// 距離がradiusKmと等しい場合はtrueを返す。
// 半径が負またはNaNの場合はValidationErrorを返す。
func IsWithinRadius(origin, candidate Point, radiusKm float64) (bool, error) {
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return false, model.NewInvalidRadiusError("radius is not a finite number")
	}
	if radiusKm < 0 {
		return false, model.NewInvalidRadiusError(fmt.Sprintf("radius is negative: %v", radiusKm))
	}

	d, err := DistanceKm(origin, candidate)
	if err != nil {
		return false, err
	}
	return d <= radiusKm, nil
}
