package output

import "github.com/KilimcininKorOglu/poros-engine/internal/trace"

// rttStats computes avg/min/max/jitter over a hop's probe slots, considering
// only the ones that actually got a reply.
func rttStats(probes []ProbeView) (avg, min, max, jitter float64) {
	var valid []float64
	for _, p := range probes {
		if p.Kind == trace.Responded {
			valid = append(valid, p.RTTMillis)
		}
	}
	if len(valid) == 0 {
		return 0, 0, 0, 0
	}

	min = valid[0]
	max = valid[0]
	sum := 0.0
	for _, rtt := range valid {
		sum += rtt
		if rtt < min {
			min = rtt
		}
		if rtt > max {
			max = rtt
		}
	}

	avg = sum / float64(len(valid))
	jitter = max - min
	return
}

// percentOfKind computes the share of probe slots matching kind.
func percentOfKind(probes []ProbeView, kind trace.ProbeOutcomeKind) float64 {
	if len(probes) == 0 {
		return 0
	}
	n := 0
	for _, p := range probes {
		if p.Kind == kind {
			n++
		}
	}
	return float64(n) / float64(len(probes)) * 100
}
