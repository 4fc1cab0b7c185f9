package library

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/YannKr/assetdeck/internal/model"
)

// Stats summarises asset sizes. Assets of unknown size are left out of
// the mean and median; an even count takes the mean of the middle two.
func (c *Collection) Stats() model.SizeStats {
	c.mu.Lock()
	sizes := make([]float64, 0, len(c.st.assets))
	var total int64
	for _, a := range c.st.assets {
		if a.SizeBytes > 0 {
			sizes = append(sizes, float64(a.SizeBytes))
			total += a.SizeBytes
		}
	}
	c.mu.Unlock()

	out := model.SizeStats{TotalBytes: total, Known: len(sizes)}
	if len(sizes) == 0 {
		return out
	}
	sort.Float64s(sizes)
	out.MeanBytes = stat.Mean(sizes, nil)
	out.MedianBytes = stat.Quantile(0.5, stat.Empirical, sizes, nil)
	if n := len(sizes); n%2 == 0 {
		out.MedianBytes = stat.Mean(sizes[n/2-1:n/2+1], nil)
	}
	return out
}
