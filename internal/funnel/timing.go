package funnel

import (
	"math"
	"time"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// MaxCloseDays is the exclusive upper bound for a plausible days-to-close sample.
const MaxCloseDays = 365

// BuildTimeStats computes days-to-close over closed records. Samples that are
// not strictly between 0 and MaxCloseDays are discarded as bad data.
func BuildTimeStats(opps []model.Opportunity, tax *Taxonomy) model.TimeStats {
	var (
		sum, n           int
		minDays, maxDays int
	)
	for _, o := range opps {
		if !tax.IsClosed(o.PipelineStageID) || !o.HasCreatedAt() || !o.HasUpdatedAt() {
			continue
		}
		d := DaysToClose(o.CreatedAt, o.UpdatedAt)
		if d <= 0 || d >= MaxCloseDays {
			continue
		}
		if n == 0 || d < minDays {
			minDays = d
		}
		if d > maxDays {
			maxDays = d
		}
		sum += d
		n++
	}
	if n == 0 {
		return model.TimeStats{}
	}
	return model.TimeStats{
		PromedioTiempoCierre:    int(math.Round(float64(sum) / float64(n))),
		TiempoMinimoCierre:      minDays,
		TiempoMaximoCierre:      maxDays,
		OportunidadesAnalizadas: n,
	}
}

// DaysToClose is the elapsed time rounded up to whole days.
func DaysToClose(created, updated time.Time) int {
	return int(math.Ceil(updated.Sub(created).Hours() / 24))
}
