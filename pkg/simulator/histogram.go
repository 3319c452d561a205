package simulator

// Histogram is a fixed-range diagnostic histogram. Accumulation is
// commutative, so per-shard histograms can be merged in any order.
type Histogram struct {
	min, max float64
	counts   []int64
	overflow int64
}

// NewHistogram creates a histogram with the given number of bins covering
// [min, max). Values outside the range land in a single overflow counter.
func NewHistogram(bins int, min, max float64) *Histogram {
	if bins < 1 {
		bins = 1
	}
	return &Histogram{min: min, max: max, counts: make([]int64, bins)}
}

// Add accumulates one value.
func (h *Histogram) Add(v float64) {
	if v < h.min || v >= h.max {
		h.overflow++
		return
	}
	i := int((v - h.min) / (h.max - h.min) * float64(len(h.counts)))
	if i == len(h.counts) {
		i--
	}
	h.counts[i]++
}

// Merge adds the contents of o into h. Both histograms must have the same
// binning.
func (h *Histogram) Merge(o *Histogram) {
	for i, c := range o.counts {
		h.counts[i] += c
	}
	h.overflow += o.overflow
}

// Counts returns the per-bin counts.
func (h *Histogram) Counts() []int64 { return h.counts }

// Total returns the number of in-range entries.
func (h *Histogram) Total() int64 {
	var n int64
	for _, c := range h.counts {
		n += c
	}
	return n
}

// BinCenter returns the center value of bin i.
func (h *Histogram) BinCenter(i int) float64 {
	w := (h.max - h.min) / float64(len(h.counts))
	return h.min + w*(float64(i)+0.5)
}
