package presence

// TransformParams describe one client's native coordinate space. Both
// directions of the transform are pure functions of these params, so a
// producer and a consumer with the same params agree exactly on what an
// exchange-space point means.
type TransformParams struct {
	// XRange and YRange are the native extents mapped onto the exchange
	// range: [min, max]. A screen would use [0, width] / [0, height]; a 3D
	// producer uses the extents of its tracking volume.
	XRange [2]float64
	YRange [2]float64

	// InvertX / InvertY flip an axis, for native spaces whose axis grows in
	// the opposite direction to the exchange space (e.g. screen Y down vs
	// world Y up).
	InvertX bool
	InvertY bool

	// Scale is a linear factor applied to native values before normalising.
	// Zero means 1.
	Scale float64

	// Depth divides native values before normalising, for 3D producers whose
	// apparent offsets shrink with distance to the reference frame. Zero
	// means no perspective divide.
	Depth float64
}

func (p TransformParams) scale() float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}

func (p TransformParams) depth() float64 {
	if p.Depth == 0 {
		return 1
	}
	return p.Depth
}

// ToExchange maps a native point into the exchange space, clamping the result
// to [ExchangeMin, ExchangeMax] on both axes.
func ToExchange(x, y float64, p TransformParams) (float64, float64) {
	s := p.scale() / p.depth()
	ex := normalise(x*s, p.XRange, p.InvertX)
	ey := normalise(y*s, p.YRange, p.InvertY)
	return ex, ey
}

// FromExchange maps an exchange-space point back into the native space
// described by params. It is the inverse of ToExchange up to clamping at the
// range boundaries.
func FromExchange(ex, ey float64, p TransformParams) (float64, float64) {
	s := p.scale() / p.depth()
	x := denormalise(clamp(ex, ExchangeMin, ExchangeMax), p.XRange, p.InvertX) / s
	y := denormalise(clamp(ey, ExchangeMin, ExchangeMax), p.YRange, p.InvertY) / s
	return x, y
}

func normalise(v float64, r [2]float64, invert bool) float64 {
	width := r[1] - r[0]
	if width == 0 {
		return ExchangeMin
	}
	n := (v - r[0]) / width * ExchangeMax
	if invert {
		n = ExchangeMax - n
	}
	return clamp(n, ExchangeMin, ExchangeMax)
}

func denormalise(n float64, r [2]float64, invert bool) float64 {
	if invert {
		n = ExchangeMax - n
	}
	return r[0] + n/ExchangeMax*(r[1]-r[0])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
