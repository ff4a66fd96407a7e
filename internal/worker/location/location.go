// Package location implements the neighborhood convenience/accessibility
// specialist, grounded on the original's LocationAgent and
// location_tools.py (search_nearby_facilities, calculate_convenience_score,
// get_location_grade).
package location

import (
	"context"
	"math/rand"
	"sort"

	"github.com/dshills/qa-orchestrator/internal/worker"
)

// Name is the registry key this worker is installed under.
const Name = "location"

// facilityWeights mirrors calculate_convenience_score's weighting table:
// how much each nearby facility type contributes to the overall
// convenience score, topped out at 100.
var facilityWeights = map[string]float64{
	"지하철역": 25,
	"버스정류장": 15,
	"학교":   20,
	"병원":   15,
	"마트":   15,
	"공원":   10,
}

// Facility is a single nearby point of interest.
type Facility struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	DistanceKm float64 `json:"distance_km"`
}

// Finder looks up nearby facilities by type for a location. DummyFinder is
// the deterministic fallback used when no real geocoding/POI service is
// configured.
type Finder interface {
	Nearby(ctx context.Context, location string, facilityTypes []string) (map[string][]Facility, error)
}

// Worker answers neighborhood convenience and accessibility questions.
type Worker struct {
	finder Finder
}

// New builds a location Worker. A nil finder falls back to DummyFinder.
func New(finder Finder) *Worker {
	if finder == nil {
		finder = DummyFinder{}
	}
	return &Worker{finder: finder}
}

// Execute implements worker.Worker.
func (w *Worker) Execute(ctx context.Context, in worker.Input) (worker.Output, error) {
	location, _ := in.Parameters["location"].(string)
	if location == "" {
		location, _ = in.Context["location"].(string)
	}
	if location == "" {
		return worker.Output{
			Status:     worker.StatusFailed,
			Confidence: 0,
			Error:      "no location could be resolved from the query",
		}, nil
	}

	facilityTypes := []string{"지하철역", "버스정류장", "학교", "병원", "마트", "공원"}
	facilities, err := w.finder.Nearby(ctx, location, facilityTypes)
	if err != nil {
		return worker.Output{Status: worker.StatusFailed, Error: err.Error()}, nil
	}

	score := convenienceScore(facilities)
	grade := locationGrade(score)
	highlights := locationHighlights(facilities)

	confidence := 0.6
	if len(facilities) > 0 {
		confidence += 0.25
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return worker.Output{
		Status:     worker.StatusSuccess,
		Confidence: confidence,
		Payload: map[string]any{
			"location":          location,
			"facilities":        facilities,
			"convenience_score": score,
			"grade":             grade,
			"highlights":        highlights,
		},
	}, nil
}

// convenienceScore reproduces calculate_convenience_score: per facility
// type, the nearest three facilities each contribute the type's weight,
// scaled down for facilities farther than 0.5km/1.0km, summed and capped
// at 100.
func convenienceScore(facilities map[string][]Facility) float64 {
	var score float64
	for facilityType, list := range facilities {
		weight, ok := facilityWeights[facilityType]
		if !ok {
			continue
		}
		sorted := append([]Facility{}, list...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].DistanceKm < sorted[j].DistanceKm })
		if len(sorted) > 3 {
			sorted = sorted[:3]
		}
		for _, f := range sorted {
			switch {
			case f.DistanceKm < 0.5:
				score += weight
			case f.DistanceKm < 1.0:
				score += weight * 0.7
			default:
				score += weight * 0.4
			}
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// locationGrade reproduces get_location_grade's S/A/B/C/D banding.
func locationGrade(score float64) string {
	switch {
	case score >= 90:
		return "S"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	default:
		return "D"
	}
}

func locationHighlights(facilities map[string][]Facility) []string {
	var out []string
	for facilityType, list := range facilities {
		if len(list) == 0 {
			continue
		}
		nearest := list[0]
		for _, f := range list {
			if f.DistanceKm < nearest.DistanceKm {
				nearest = f
			}
		}
		if nearest.DistanceKm < 0.5 {
			out = append(out, facilityType+" 도보권 "+nearest.Name)
		}
	}
	sort.Strings(out)
	return out
}

// DummyFinder generates deterministic synthetic nearby facilities when no
// real POI/geocoding service is configured, mirroring
// search_nearby_facilities' randomized fallback.
type DummyFinder struct{}

func (DummyFinder) Nearby(_ context.Context, location string, facilityTypes []string) (map[string][]Facility, error) {
	r := rand.New(rand.NewSource(hashSeed(location)))
	out := make(map[string][]Facility, len(facilityTypes))
	for _, ft := range facilityTypes {
		count := 1 + r.Intn(3)
		list := make([]Facility, 0, count)
		for i := 0; i < count; i++ {
			list = append(list, Facility{
				Name:       location + " " + ft,
				Type:       ft,
				DistanceKm: roundTo(r.Float64()*2.0, 2),
			})
		}
		out[ft] = list
	}
	return out, nil
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}

func hashSeed(s string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range s {
		h ^= int64(c)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}
