package offline

import (
	"context"
	"net/url"
	"time"

	"gamenotes/internal/store"
)

// RefreshReport counts one pass over the manifest.
type RefreshReport struct {
	Updated   int
	Unchanged int
	Failed    int
}

func (s *Service) startLoops() {
	if s.cfg.refreshEvery > 0 {
		s.log.Info().Dur("every", s.cfg.refreshEvery).Msg("manifest refresh enabled")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.refreshLoop(s.cfg.refreshEvery)
		}()
	}
	if s.cfg.statsEvery > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(s.cfg.statsEvery)
		}()
	}
}

func (s *Service) refreshLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-s.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			rep := s.Refresh(ctx)
			cancel()
			s.log.Debug().
				Int("updated", rep.Updated).
				Int("unchanged", rep.Unchanged).
				Int("failed", rep.Failed).
				Msg("manifest refreshed")
		}
	}
}

// Refresh re-fetches every manifest entry into the current generation. An
// entry whose body checksum did not change is not rewritten, and a failed or
// non-2xx refetch keeps the stored copy.
func (s *Service) Refresh(ctx context.Context) RefreshReport {
	var rep RefreshReport
	gen := s.controlling()
	if gen == nil {
		return rep
	}
	for _, entry := range s.manifestEntries(ctx) {
		if ctx.Err() != nil {
			return rep
		}
		switch s.refreshOnce(ctx, gen, entry) {
		case refreshUpdated:
			rep.Updated++
		case refreshUnchanged:
			rep.Unchanged++
		default:
			rep.Failed++
		}
	}
	return rep
}

type refreshResult int

const (
	refreshFailed refreshResult = iota
	refreshUnchanged
	refreshUpdated
)

func (s *Service) refreshOnce(ctx context.Context, gen store.Generation, entry string) refreshResult {
	u, err := url.Parse(entry)
	if err != nil {
		return refreshFailed
	}
	target, key, sameOrigin := s.target(u)
	if target == nil {
		return refreshFailed
	}

	newEnt, _, err := s.fetch(ctx, target, nil, sameOrigin)
	if err != nil {
		s.log.Debug().Err(err).Str("entry", entry).Msg("refresh fetch failed")
		return refreshFailed
	}
	if newEnt.Status < 200 || newEnt.Status >= 300 || !shareable(newEnt.Header) {
		return refreshFailed
	}

	if cur, ok := s.lookup(gen, key); ok && cur.Hash32 == newEnt.Hash32 && cur.Status == newEnt.Status {
		return refreshUnchanged
	}
	s.put(gen, key, newEnt)
	return refreshUpdated
}
