package output

import (
	"net"
	"time"

	"github.com/KilimcininKorOglu/poros-engine/internal/enrich"
	"github.com/KilimcininKorOglu/poros-engine/internal/trace"
)

// ProbeView is the presentation-layer view of a single probe slot. Unlike
// the teacher's flat RTT array, it carries the slot's trace.ProbeOutcomeKind
// through to the formatters, so a socket/receive error can be rendered
// differently from an ordinary timeout instead of collapsing both to "*".
type ProbeView struct {
	Kind      trace.ProbeOutcomeKind
	RTTMillis float64 // meaningful only when Kind == trace.Responded
}

// HopView is the presentation-layer view of one hop: a TracerouteResult's
// HopRecord flattened into per-probe views plus aggregate RTT/loss/error
// stats, and whatever enrichment data the caller supplied for its router
// address.
type HopView struct {
	Number       int
	Responded    bool
	IP           net.IP
	Hostname     string
	Probes       []ProbeView
	AvgRTT       float64
	MinRTT       float64
	MaxRTT       float64
	Jitter       float64
	LossPercent  float64 // share of probe slots that timed out
	ErrorPercent float64 // share of probe slots that errored (send/receive failure)
	ASN          *enrich.ASNInfo
	Geo          *enrich.GeoInfo
}

// HasErrors reports whether any probe slot in the hop ended in Errored
// rather than a plain TimedOut — a distinction the teacher's bool-plus-RTT
// model could never express.
func (h HopView) HasErrors() bool {
	for _, p := range h.Probes {
		if p.Kind == trace.Errored {
			return true
		}
	}
	return false
}

// SummaryView holds the aggregate statistics over an entire run.
type SummaryView struct {
	TotalHops         int
	TotalTimeMs       float64
	PacketLossPercent float64
}

// ResultView is the formatter-facing view of a finished traceroute run.
type ResultView struct {
	Target      string
	ResolvedIP  net.IP
	Timestamp   time.Time
	ProbeMethod string
	Completed   bool
	Hops        []HopView
	Summary     SummaryView
}

// BuildResultView flattens a trace.TracerouteResult into a ResultView,
// merging in enrichment results keyed by router IP string (as returned by
// enrich.Enricher.EnrichIPs). enrichment may be nil.
func BuildResultView(result *trace.TracerouteResult, enrichment map[string]*enrich.EnrichmentResult) *ResultView {
	view := &ResultView{
		Target:      result.TargetName,
		ResolvedIP:  result.TargetAddress,
		Timestamp:   time.Now(),
		ProbeMethod: "icmp",
		Completed:   result.ReachedTarget,
		Hops:        make([]HopView, len(result.Hops)),
	}

	for i, hop := range result.Hops {
		view.Hops[i] = BuildHopView(hop, enrichment)
	}

	view.Summary = summarize(view.Hops)
	return view
}

// BuildHopView flattens a single trace.HopRecord, useful for callers (such as
// the TUI) that render hops incrementally as HopCompletedEvents arrive rather
// than waiting for a full TracerouteResult.
func BuildHopView(hop trace.HopRecord, enrichment map[string]*enrich.EnrichmentResult) HopView {
	hv := HopView{
		Number: hop.Number,
		Probes: make([]ProbeView, len(hop.Probes)),
	}

	var router net.IP
	for i, probe := range hop.Probes {
		pv := ProbeView{Kind: probe.Kind}
		if probe.Kind == trace.Responded {
			pv.RTTMillis = float64(probe.RTT.Microseconds()) / 1000.0
			hv.Responded = true
			if probe.Router != nil {
				router = probe.Router
			}
		}
		hv.Probes[i] = pv
	}

	if router != nil {
		hv.IP = router
		if enrichment != nil {
			if e := enrichment[router.String()]; e != nil {
				hv.Hostname = e.Hostname
				hv.ASN = e.ASN
				hv.Geo = e.Geo
			}
		}
	}

	hv.AvgRTT, hv.MinRTT, hv.MaxRTT, hv.Jitter = rttStats(hv.Probes)
	hv.LossPercent = percentOfKind(hv.Probes, trace.TimedOut)
	hv.ErrorPercent = percentOfKind(hv.Probes, trace.Errored)
	return hv
}

// RouterAddresses collects the distinct, non-nil router addresses observed
// across a result's hops, suitable as input to enrich.Enricher.EnrichIPs.
func RouterAddresses(result *trace.TracerouteResult) []net.IP {
	seen := make(map[string]bool)
	var ips []net.IP
	for _, hop := range result.Hops {
		for _, probe := range hop.Probes {
			if probe.Kind == trace.Responded && probe.Router != nil {
				key := probe.Router.String()
				if !seen[key] {
					seen[key] = true
					ips = append(ips, probe.Router)
				}
			}
		}
	}
	return ips
}

func summarize(hops []HopView) SummaryView {
	summary := SummaryView{TotalHops: len(hops)}

	var totalLoss float64
	for _, hop := range hops {
		totalLoss += hop.LossPercent
	}
	if len(hops) > 0 {
		summary.PacketLossPercent = totalLoss / float64(len(hops))
	}

	for i := len(hops) - 1; i >= 0; i-- {
		if hops[i].AvgRTT > 0 {
			summary.TotalTimeMs = hops[i].AvgRTT
			break
		}
	}

	return summary
}
