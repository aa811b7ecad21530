package state

import (
	"time"

	"lecca.io/axelar-watchtower/internal/history"
	"lecca.io/axelar-watchtower/internal/types"
)

// Stats summarize a global history.
type Stats struct {
	Signed      int
	Missed      int
	Consecutive int
	Rate        float64
}

// Rate returns signed/(signed+missed) as a percentage, 100 when nothing is known.
func Rate(good, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(good) / float64(total) * 100
}

func (s Snapshot) BlockStats() Stats {
	var st Stats
	for _, b := range s.Blocks {
		switch b {
		case types.BlockSigned, types.BlockProposed:
			st.Signed++
		case types.BlockMissed:
			st.Missed++
		}
	}
	st.Consecutive = history.CountLeading(s.Blocks, func(b types.BlockStatus) bool { return b == types.BlockMissed })
	st.Rate = Rate(st.Signed, st.Signed+st.Missed)
	return st
}

func (s Snapshot) HeartbeatStats() Stats {
	var st Stats
	for _, h := range s.Heartbeats {
		switch h {
		case types.HeartbeatSigned:
			st.Signed++
		case types.HeartbeatMissed:
			st.Missed++
		}
	}
	st.Consecutive = history.CountLeading(s.Heartbeats, func(h types.HeartbeatStatus) bool { return h == types.HeartbeatMissed })
	st.Rate = Rate(st.Signed, st.Signed+st.Missed)
	return st
}

// ChainStats summarize one chain's records. Only records older than the maturity
// window count towards Rate, ConsecutiveMissed and the validity flags.
type ChainStats struct {
	Kind              types.RecordKind
	Chain             string
	Total             int
	Mature            int
	Valid             int
	Outstanding       int
	ConsecutiveMissed int
	Rate              float64
	// LatestMatureValid is set when the newest mature record has a valid outcome.
	LatestMatureValid bool
	// LatestValidAt is the creation time of the newest mature valid record.
	LatestValidAt time.Time
}

type entry struct {
	createdAt time.Time
	missed    bool
	valid     bool
}

func entries(rec types.ChainRecords) []entry {
	var out []entry
	if rec.Kind == types.RecordEVMPoll {
		for _, p := range rec.Polls {
			if p.IsPlaceholder() {
				break
			}
			out = append(out, entry{
				createdAt: p.CreatedAt,
				missed:    p.Result == types.ResultUnsubmitted,
				valid:     p.Result == types.ResultValidated,
			})
		}
		return out
	}
	for _, r := range rec.Ampd {
		if r.IsPlaceholder() {
			break
		}
		out = append(out, entry{
			createdAt: r.CreatedAt,
			missed:    r.Result == types.ResultUnsubmit,
			valid:     r.Result != types.ResultUnsubmit && r.Result != types.ResultUnknown,
		})
	}
	return out
}

func ComputeChainStats(rec types.ChainRecords, maturity time.Duration, now time.Time) ChainStats {
	st := ChainStats{Kind: rec.Kind, Chain: rec.Chain}
	counting := true
	seenMature := false
	for _, e := range entries(rec) {
		st.Total++
		if e.missed {
			st.Outstanding++
		}
		if now.Sub(e.createdAt) < maturity {
			continue
		}
		st.Mature++
		if e.valid {
			st.Valid++
			if st.LatestValidAt.IsZero() {
				st.LatestValidAt = e.createdAt
			}
		}
		if !seenMature {
			seenMature = true
			st.LatestMatureValid = e.valid
		}
		if counting {
			if e.missed {
				st.ConsecutiveMissed++
			} else {
				counting = false
			}
		}
	}
	st.Rate = Rate(st.Valid, st.Mature)
	return st
}
