package throttle

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Sampler reports system CPU utilization as a fraction in [0, 1]
type Sampler interface {
	Utilization() (float64, error)
}

// CPUSampler measures utilization since its previous call, so the first
// sample reports zero and steady polling gives per-interval averages
type CPUSampler struct{}

func (CPUSampler) Utilization() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0] / 100, nil
}

// NextInterval paces the journal poll: above the threshold the base
// interval stretches by the multiplier, otherwise it stays put. A
// failed sample never throttles.
func NextInterval(base time.Duration, threshold float64, multiplier int, s Sampler) time.Duration {
	util, err := s.Utilization()
	if err != nil {
		return base
	}
	if util > threshold {
		return base * time.Duration(multiplier)
	}
	return base
}
