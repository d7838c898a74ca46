// Package kriging implements the regression-kriging grid engine (component
// F): a spherical-variogram ordinary kriging with external drift, grounded
// on engine/kriging/regression_kriging.py's RegressionKrigingEngine, using
// gonum for the linear-algebra (matrix inversion) step the reference does
// with NumPy/CuPy.
package kriging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/forensic"
)

// Variogram holds the spherical-model parameters of §4.6, all configurable
// (§6: variogram {nugget, sill, range_m}).
type Variogram struct {
	Nugget  float64
	Sill    float64
	RangeM  float64
}

// DefaultVariogram returns the spec defaults: nugget 0.001, sill 0.05,
// range 150m.
func DefaultVariogram() Variogram {
	return Variogram{Nugget: 0.001, Sill: 0.05, RangeM: 150}
}

func (v Variogram) gamma(h float64) float64 {
	if h <= v.RangeM {
		r := h / v.RangeM
		return v.Nugget + v.Sill*(1.5*r-0.5*r*r*r)
	}
	return v.Nugget + v.Sill
}

// Engine generates a virtual moisture grid from sparse probe measurements,
// per §4.6. It is stateless aside from configuration, so one instance may
// serve every field concurrently.
type Engine struct {
	variogram       Variogram
	trendWeight     float64
	gridResolutionM float64
	maxCells        int
}

// Config mirrors the §6 kriging-related options.
type Config struct {
	Variogram       Variogram
	TrendWeight     float64
	GridResolutionM float64
	MaxCells        int
}

// NewEngine constructs an Engine, defaulting zero-value Config fields to
// the spec's defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.Variogram == (Variogram{}) {
		cfg.Variogram = DefaultVariogram()
	}
	if cfg.TrendWeight == 0 {
		cfg.TrendWeight = 0.3
	}
	if cfg.GridResolutionM == 0 {
		cfg.GridResolutionM = 1
	}
	if cfg.MaxCells == 0 {
		cfg.MaxCells = 10000
	}
	return &Engine{
		variogram:       cfg.Variogram,
		trendWeight:     cfg.TrendWeight,
		gridResolutionM: cfg.GridResolutionM,
		maxCells:        cfg.MaxCells,
	}
}

const (
	latMetersPerDegree = 111000.0
	lonMetersPerDegree = 86000.0
	anchorToleranceM   = 5.0
)

// Bounds is a field's geographic extent (min/max lat/lon).
type Bounds struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// Probe is one sensor reading at a fixed depth, the kriging engine's input unit.
type Probe struct {
	SensorID  string
	Latitude  float64
	Longitude float64
	VWC       float64
}

// TrendFunc is the external-drift callable of §6 ("Trend source"): g(lat,
// lon) -> [0,1]. A nil TrendFunc is treated as a constant 0.
type TrendFunc func(lat, lon float64) float64

func toMeters(lat, lon float64) (x, y float64) {
	return lat * latMetersPerDegree, lon * lonMetersPerDegree
}

func distanceM(lat1, lon1, lat2, lon2 float64) float64 {
	x1, y1 := toMeters(lat1, lon1)
	x2, y2 := toMeters(lat2, lon2)
	dx, dy := x1-x2, y1-y2
	return math.Sqrt(dx*dx + dy*dy)
}

func gridDimensions(b Bounds, resolutionM float64, maxCells int) (nLat, nLon int) {
	latMeters := (b.MaxLat - b.MinLat) * latMetersPerDegree
	lonMeters := (b.MaxLon - b.MinLon) * lonMetersPerDegree
	nLat = int(latMeters/resolutionM) + 1
	nLon = int(lonMeters/resolutionM) + 1
	if nLat*nLon > maxCells {
		scale := math.Sqrt(float64(maxCells) / float64(nLat*nLon))
		nLat = int(float64(nLat) * scale)
		nLon = int(float64(nLon) * scale)
	}
	if nLat < 1 {
		nLat = 1
	}
	if nLon < 1 {
		nLon = 1
	}
	return nLat, nLon
}

func linspace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	return out
}

// GenerateGrid produces a grid of cells for a field at the given depth, per
// §4.6's numbered steps. Cells within anchorToleranceM of a probe become
// hard anchors returning the probe value exactly. With fewer than 3 probes
// it falls back to inverse-distance weighting with fixed confidence 0.5.
func (e *Engine) GenerateGrid(fieldID string, bounds Bounds, probes []Probe, trend TrendFunc, depth int, now time.Time) domain.Grid {
	nLat, nLon := gridDimensions(bounds, e.gridResolutionM, e.maxCells)
	latGrid := linspace(bounds.MinLat, bounds.MaxLat, nLat)
	lonGrid := linspace(bounds.MinLon, bounds.MaxLon, nLon)

	var cells []domain.GridCell
	if len(probes) < 3 {
		cells = e.fallbackGrid(fieldID, latGrid, lonGrid, probes, depth, now)
	} else {
		cells = e.krigeGrid(fieldID, latGrid, lonGrid, probes, trend, depth, now)
	}

	hashes := make([]string, len(cells))
	for i := range cells {
		cells[i].CellHash = hashCell(cells[i])
		hashes[i] = cells[i].CellHash
	}
	return domain.Grid{FieldID: fieldID, Timestamp: now, Cells: cells, MerkleRoot: forensic.MerkleRootOf(hashes)}
}

func (e *Engine) krigeGrid(fieldID string, latGrid, lonGrid []float64, probes []Probe, trend TrendFunc, depth int, now time.Time) []domain.GridCell {
	n := len(probes)

	trendAtProbes := make([]float64, n)
	if trend != nil {
		for i, p := range probes {
			trendAtProbes[i] = trend(p.Latitude, p.Longitude)
		}
	}
	detrended := make([]float64, n)
	for i, p := range probes {
		detrended[i] = p.VWC - e.trendWeight*trendAtProbes[i]
	}

	// Build the augmented Lagrange system K (n+1 x n+1).
	K := mat.NewDense(n+1, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := distanceM(probes[i].Latitude, probes[i].Longitude, probes[j].Latitude, probes[j].Longitude)
			K.Set(i, j, e.variogram.gamma(d))
		}
		K.Set(i, n, 1)
		K.Set(n, i, 1)
	}
	K.Set(n, n, 0)

	var KInv mat.Dense
	if err := KInv.Inverse(K); err != nil {
		// Singular system (collinear or duplicate probe locations): ridge
		// the variogram block by a small epsilon and retry, rather than
		// abort the grid cycle outright.
		ridged := mat.DenseCopyOf(K)
		for i := 0; i < n; i++ {
			ridged.Set(i, i, ridged.At(i, i)+1e-9)
		}
		if err := KInv.Inverse(ridged); err != nil {
			KInv = *mat.NewDense(n+1, n+1, identity(n+1))
		}
	}

	cells := make([]domain.GridCell, 0, len(latGrid)*len(lonGrid))
	for _, lat := range latGrid {
		for _, lon := range lonGrid {
			anchorIdx, isAnchor := nearestAnchor(lat, lon, probes)
			if isAnchor {
				var tv *float64
				if trend != nil {
					v := trend(lat, lon)
					tv = &v
				}
				cells = append(cells, domain.GridCell{
					FieldID: fieldID, Latitude: lat, Longitude: lon, Depth: depth,
					Timestamp: now, EstimatedVWC: probes[anchorIdx].VWC,
					EstimationVar: 0, Confidence: 1, IsHardAnchor: true,
					AnchorSensorID: probes[anchorIdx].SensorID, TrendValue: tv,
				})
				continue
			}

			kVec := make([]float64, n+1)
			for i, p := range probes {
				kVec[i] = e.variogram.gamma(distanceM(lat, lon, p.Latitude, p.Longitude))
			}
			kVec[n] = 1

			weights := make([]float64, n+1)
			kVecM := mat.NewVecDense(n+1, kVec)
			var wVec mat.VecDense
			wVec.MulVec(&KInv, kVecM)
			for i := 0; i <= n; i++ {
				weights[i] = wVec.AtVec(i)
			}

			estimate := 0.0
			for i := 0; i < n; i++ {
				estimate += weights[i] * detrended[i]
			}
			trendVal := 0.0
			if trend != nil {
				trendVal = trend(lat, lon)
			}
			estimated := estimate + e.trendWeight*trendVal

			variance := e.variogram.Sill + e.variogram.Nugget
			for i := 0; i < n; i++ {
				variance -= weights[i] * kVec[i]
			}
			if variance < 0 {
				variance = 0
			}
			confidence := 1 / (1 + 10*variance)

			var tv *float64
			if trend != nil {
				tv = &trendVal
			}
			cells = append(cells, domain.GridCell{
				FieldID: fieldID, Latitude: lat, Longitude: lon, Depth: depth,
				Timestamp: now, EstimatedVWC: estimated, EstimationVar: variance,
				Confidence: confidence, TrendValue: tv,
			})
		}
	}
	return cells
}

func identity(n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
	}
	return out
}

func nearestAnchor(lat, lon float64, probes []Probe) (idx int, ok bool) {
	best := math.Inf(1)
	bestIdx := -1
	for i, p := range probes {
		d := distanceM(lat, lon, p.Latitude, p.Longitude)
		if d < best {
			best = d
			bestIdx = i
		}
	}
	if best < anchorToleranceM {
		return bestIdx, true
	}
	return -1, false
}

// fallbackGrid implements §4.6 step 1's inverse-distance-weighted path for
// fewer than 3 probes at the requested depth, fixed confidence 0.5.
func (e *Engine) fallbackGrid(fieldID string, latGrid, lonGrid []float64, probes []Probe, depth int, now time.Time) []domain.GridCell {
	if len(probes) == 0 {
		probes = []Probe{{Latitude: (latGrid[0] + latGrid[len(latGrid)-1]) / 2, Longitude: (lonGrid[0] + lonGrid[len(lonGrid)-1]) / 2, VWC: 0.20}}
	}

	cells := make([]domain.GridCell, 0, len(latGrid)*len(lonGrid))
	for _, lat := range latGrid {
		for _, lon := range lonGrid {
			weights := make([]float64, len(probes))
			sumW := 0.0
			for i, p := range probes {
				d := distanceM(lat, lon, p.Latitude, p.Longitude)
				w := 1 / (d + 1)
				weights[i] = w
				sumW += w
			}
			estimate := 0.0
			for i, p := range probes {
				estimate += (weights[i] / sumW) * p.VWC
			}

			cells = append(cells, domain.GridCell{
				FieldID: fieldID, Latitude: lat, Longitude: lon, Depth: depth,
				Timestamp: now, EstimatedVWC: estimate, EstimationVar: 0,
				Confidence: 0.5, Fallback: true,
			})
		}
	}
	return cells
}

func hashCell(c domain.GridCell) string {
	s := fmt.Sprintf("%s|%.8f|%.8f|%d|%.6f|%.8f|%s", c.FieldID, c.Latitude, c.Longitude, c.Depth,
		c.EstimatedVWC, c.EstimationVar, c.Timestamp.UTC().Format(time.RFC3339))
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

