package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/ride-hail/internal/models"
)

// earthRadiusMiles matches the constant used across the matching rules;
// distances are reported in miles rounded to two decimal places.
const earthRadiusMiles = 3958.7613

// DistanceMiles computes the great-circle distance between two points
// using the haversine formula. Identical points yield 0.
func DistanceMiles(a, b models.GeoPoint) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return math.Round(earthRadiusMiles*c*100) / 100
}

// DriverIndex is the coarse proximity index over available drivers. The
// contract is superset semantics: Near may return drivers slightly outside
// the radius (false positives), never miss one inside it. Exact per-driver
// cutoffs are applied by the matching engine on top of this.
type DriverIndex interface {
	Upsert(ctx context.Context, driverID string, p models.GeoPoint) error
	Remove(ctx context.Context, driverID string) error
	Near(ctx context.Context, p models.GeoPoint, radiusMiles float64) ([]string, error)
}

// MemoryIndex is a mutex-guarded in-process index used for tests and
// single-node deployments without Redis.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]models.GeoPoint
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]models.GeoPoint)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, driverID string, p models.GeoPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[driverID] = p
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, driverID)
	return nil
}

// naive scan; the Redis GEO index covers multi-node deployments
func (m *MemoryIndex) Near(ctx context.Context, p models.GeoPoint, radiusMiles float64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.points))
	for id, loc := range m.points {
		if DistanceMiles(p, loc) <= radiusMiles {
			out = append(out, id)
		}
	}
	return out, nil
}
