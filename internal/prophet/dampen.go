package prophet

import "math"

// DampenTrend attenuates a zero-centered trend component over the forecast
// horizon: step t becomes trend[t]*exp(-t/tau) while t is below floor(tau),
// and every later step is held at the floor(tau) value. Raw linear
// extrapolation runs away over a 12-month horizon; the decay keeps the near
// horizon responsive and bounds the far one.
func DampenTrend(trend []float64, tau float64) []float64 {
	out := make([]float64, len(trend))
	if tau <= 0 {
		copy(out, trend)
		return out
	}
	cut := int(math.Floor(tau))
	for t := range trend {
		if t < cut {
			out[t] = trend[t] * math.Exp(-float64(t)/tau)
		} else {
			out[t] = trend[cut] * math.Exp(-float64(cut)/tau)
		}
	}
	return out
}
