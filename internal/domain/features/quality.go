package features

import (
	"github.com/learnloop/insight/internal/domain/shared"
)

// FinishQuality computes and stores the vector's data-quality score.
//
// Quality is the quality-weight-weighted fraction of features whose
// upstream signal was actually observed rather than defaulted. Heavier
// features (prerequisite gap, retention strength) drag quality harder
// when missing. The score is [0,1] and never aborts extraction; low
// quality only degrades confidence downstream.
func (v *Vector) FinishQuality() shared.DataQuality {
	var present, total float64
	for _, d := range definitions {
		total += d.Def.QWeight
		if !v.WasDefaulted(d.Name) {
			present += d.Def.QWeight
		}
	}
	if total == 0 {
		v.Quality = 0
		return 0
	}
	v.Quality = shared.ClampUnit(present / total)
	return v.Quality
}

// CategoryQuality reports completeness for a single category, used by the
// extractor to decide whether a category read was degraded enough to log.
func (v *Vector) CategoryQuality(cat Category) shared.DataQuality {
	var present, total float64
	for _, d := range definitions {
		if d.Def.Category != cat {
			continue
		}
		total += d.Def.QWeight
		if !v.WasDefaulted(d.Name) {
			present += d.Def.QWeight
		}
	}
	if total == 0 {
		return 0
	}
	return shared.ClampUnit(present / total)
}

// DefaultedCount returns how many features carry fallback values.
func (v *Vector) DefaultedCount() int {
	n := 0
	for _, d := range definitions {
		if v.WasDefaulted(d.Name) {
			n++
		}
	}
	return n
}
