package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/ride-hail/internal/models"
)

var (
	sanFrancisco = models.GeoPoint{Longitude: -122.4194, Latitude: 37.7749}
	losAngeles   = models.GeoPoint{Longitude: -118.2437, Latitude: 34.0522}
)

func TestDistanceMiles_ZeroForSamePoint(t *testing.T) {
	if d := DistanceMiles(sanFrancisco, sanFrancisco); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestDistanceMiles_KnownDistance(t *testing.T) {
	d := DistanceMiles(sanFrancisco, losAngeles)
	// great-circle SF to LA is about 347 miles
	if d < 340 || d > 360 {
		t.Fatalf("SF-LA distance out of range: %v", d)
	}
	if d != DistanceMiles(losAngeles, sanFrancisco) {
		t.Fatalf("distance not symmetric")
	}
}

func TestDistanceMiles_RoundedToHundredths(t *testing.T) {
	a := models.GeoPoint{Longitude: -75.0, Latitude: 40.0}
	b := models.GeoPoint{Longitude: -75.0, Latitude: 40.01}
	d := DistanceMiles(a, b)
	if diff := math.Abs(d*100 - math.Round(d*100)); diff > 1e-9 {
		t.Fatalf("expected two-decimal rounding, got %v", d)
	}
	if d <= 0 || d > 1 {
		t.Fatalf("0.01 degrees latitude should be well under a mile: %v", d)
	}
}

func TestMemoryIndex_NearFiltersByRadius(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "near", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, "far", losAngeles); err != nil {
		t.Fatal(err)
	}

	ids, err := idx.Near(ctx, models.GeoPoint{Longitude: -75.0, Latitude: 40.0}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "near" {
		t.Fatalf("expected [near], got %v", ids)
	}
}

func TestMemoryIndex_RemoveDropsEntry(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "d1", sanFrancisco); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	ids, err := idx.Near(ctx, sanFrancisco, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty result after remove, got %v", ids)
	}
}
