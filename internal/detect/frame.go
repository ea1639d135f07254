package detect

// Frame is a single decoded video frame reduced to row-major luminance
// values in [0,255]. Media decoding is out of scope for this module; callers
// hand frames in already extracted.
type Frame struct {
	Width  int
	Height int
	Lum    []float64
}

func (f Frame) valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Lum) == f.Width*f.Height
}

// Mean returns the mean luminance of the whole frame.
func (f Frame) Mean() float64 {
	if !f.valid() {
		return 0
	}
	total := 0.0
	for _, v := range f.Lum {
		total += v
	}
	return total / float64(len(f.Lum))
}

// RegionMean returns the mean luminance of the rectangle [x0,x1)×[y0,y1),
// clipped to the frame bounds.
func (f Frame) RegionMean(x0, y0, x1, y1 int) float64 {
	if !f.valid() {
		return 0
	}
	x0, y0 = maxInt(x0, 0), maxInt(y0, 0)
	x1, y1 = minInt(x1, f.Width), minInt(y1, f.Height)
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	total := 0.0
	for y := y0; y < y1; y++ {
		row := y * f.Width
		for x := x0; x < x1; x++ {
			total += f.Lum[row+x]
		}
	}
	return total / float64((x1-x0)*(y1-y0))
}

// RegionBrightCount counts pixels above the threshold inside the rectangle.
func (f Frame) RegionBrightCount(x0, y0, x1, y1 int, threshold float64) int {
	if !f.valid() {
		return 0
	}
	x0, y0 = maxInt(x0, 0), maxInt(y0, 0)
	x1, y1 = minInt(x1, f.Width), minInt(y1, f.Height)
	count := 0
	for y := y0; y < y1; y++ {
		row := y * f.Width
		for x := x0; x < x1; x++ {
			if f.Lum[row+x] > threshold {
				count++
			}
		}
	}
	return count
}

// AbsDiffMean returns the mean absolute per-pixel difference to another
// frame of the same dimensions, or 0 when shapes differ.
func (f Frame) AbsDiffMean(other Frame) float64 {
	if !f.valid() || !other.valid() || f.Width != other.Width || f.Height != other.Height {
		return 0
	}
	total := 0.0
	for i := range f.Lum {
		d := f.Lum[i] - other.Lum[i]
		if d < 0 {
			d = -d
		}
		total += d
	}
	return total / float64(len(f.Lum))
}

// NeighborDeltaMean returns the mean absolute difference between
// horizontally adjacent pixels, a cheap high-frequency noise estimate used
// by the input purifier.
func (f Frame) NeighborDeltaMean() float64 {
	if !f.valid() || f.Width < 2 {
		return 0
	}
	total := 0.0
	count := 0
	for y := 0; y < f.Height; y++ {
		row := y * f.Width
		for x := 1; x < f.Width; x++ {
			d := f.Lum[row+x] - f.Lum[row+x-1]
			if d < 0 {
				d = -d
			}
			total += d
			count++
		}
	}
	return total / float64(count)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
