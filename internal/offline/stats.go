package offline

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type statsCollector struct {
	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64

	outcomes sync.Map // outcome -> *atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(respBytes int) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur {
			break
		}
		if s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur {
			break
		}
		if s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) Outcome(outcome string) {
	v, _ := s.outcomes.LoadOrStore(outcome, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

type statsSnapshot struct {
	TotalResponses uint64
	TotalRespBytes uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
	Outcomes       map[string]uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{Outcomes: map[string]uint64{}}
	s.outcomes.Range(func(k, v any) bool {
		out.Outcomes[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})

	count := s.totalResponses.Load()
	if count == 0 {
		return out
	}
	minv := s.minRespBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	out.TotalResponses = count
	out.TotalRespBytes = s.totalRespBytes.Load()
	out.MinRespBytes = minv
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = out.TotalRespBytes / count
	return out
}

// outcomeSummary renders counts as "fallback=1 hit=12", sorted by name.
func (ss statsSnapshot) outcomeSummary() string {
	names := make([]string, 0, len(ss.Outcomes))
	for k := range ss.Outcomes {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(ss.Outcomes[k], 10))
	}
	return b.String()
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats(s.log.Info())
		}
	}
}

func (s *Service) logStats(ev *zerolog.Event) {
	ss := s.stats.Snapshot()
	if gen := s.controlling(); gen != nil {
		entries, size, err := gen.Size()
		if err != nil {
			ev = ev.AnErr("size_err", err)
		}
		ev = ev.Str("generation", gen.Name()).Int("entries", entries).Str("stored", formatBytes(uint64(size)))
	}
	ev.Str("state", s.State().String()).
		Str("resp_min", formatBytes(ss.MinRespBytes)).
		Str("resp_avg", formatBytes(ss.AvgRespBytes)).
		Str("resp_max", formatBytes(ss.MaxRespBytes)).
		Str("outcomes", ss.outcomeSummary()).
		Msg("offline stats")
}
