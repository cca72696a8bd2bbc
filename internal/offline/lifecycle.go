package offline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gamenotes/internal/metrics"
	"gamenotes/internal/store"
)

const installConcurrency = 8

// InstallReport counts what happened to the manifest during install.
type InstallReport struct {
	Attempted int           `json:"attempted"`
	Stored    int           `json:"stored"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"took"`
}

// Start installs this version's generation and then starts the background
// loops. While installing, this version's generation from an earlier run, or
// else the previous generation, keeps serving.
//
// The new generation activates right away when nothing else was current,
// when it already existed from an earlier run, or with skipWaiting.
// Otherwise it waits for Activate.
func (s *Service) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() { err = s.start(ctx) })
	return err
}

func (s *Service) start(ctx context.Context) error {
	name := s.cfg.GenerationName()
	s.setState(StateInstalling)

	gens, err := s.store.Generations()
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	var prev string
	existed := false
	for _, g := range gens {
		switch {
		case g.Name == name:
			existed = true
		case strings.HasPrefix(g.Name, s.cfg.Proxy.CachePrefix):
			prev = g.Name // oldest first, so the last one wins
		}
	}

	gen, err := s.store.Open(name)
	if err != nil {
		return fmt.Errorf("open generation %s: %w", name, err)
	}

	// A restart keeps serving what this version stored last time; a new
	// version serves the previous one until it activates.
	serving := prev
	if existed {
		serving = name
		s.mu.Lock()
		s.current = gen
		s.mu.Unlock()
	} else if prev != "" {
		pg, err := s.store.Open(prev)
		if err != nil {
			s.log.Warn().Err(err).Str("generation", prev).Msg("open previous generation")
			serving = ""
		} else {
			s.mu.Lock()
			s.current = pg
			s.mu.Unlock()
		}
	}
	if serving != "" {
		s.log.Info().Str("generation", serving).Msg("serving stored generation during install")
	}

	rep := s.installInto(ctx, gen)
	s.log.Info().
		Str("generation", name).
		Int("attempted", rep.Attempted).
		Int("stored", rep.Stored).
		Int("failed", rep.Failed).
		Dur("took", rep.Took).
		Msg("install finished")

	s.mu.Lock()
	s.installed = gen
	s.install = rep
	s.mu.Unlock()
	s.setState(StateWaiting)

	if s.cfg.Proxy.SkipWaiting || prev == "" || existed {
		_ = s.Activate()
	} else {
		s.log.Info().Str("generation", name).Str("current", prev).Msg("installed generation is waiting for activation")
	}

	s.startLoops()
	return nil
}

// installInto fetches every manifest entry into gen. Failures are logged and
// skipped; install never aborts on one entry.
func (s *Service) installInto(ctx context.Context, gen store.Generation) InstallReport {
	started := time.Now()
	entries := s.manifestEntries(ctx)

	var stored, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(installConcurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			if err := s.installEntry(ctx, gen, entry); err != nil {
				failed.Add(1)
				metrics.RecordInstallEntry("failed")
				s.log.Warn().Err(err).Str("entry", entry).Msg("install entry skipped")
				return nil
			}
			stored.Add(1)
			metrics.RecordInstallEntry("stored")
			return nil
		})
	}
	_ = g.Wait()

	return InstallReport{
		Attempted: len(entries),
		Stored:    int(stored.Load()),
		Failed:    int(failed.Load()),
		Took:      time.Since(started),
	}
}

func (s *Service) installEntry(ctx context.Context, gen store.Generation, entry string) error {
	u, err := url.Parse(entry)
	if err != nil {
		return err
	}
	target, key, sameOrigin := s.target(u)
	if target == nil {
		return fmt.Errorf("unresolvable entry")
	}
	ent, _, err := s.fetch(ctx, target, nil, sameOrigin)
	if err != nil {
		return err
	}
	if ent.Status < 200 || ent.Status >= 300 {
		return fmt.Errorf("unexpected status %d", ent.Status)
	}
	if !shareable(ent.Header) {
		return fmt.Errorf("response is private")
	}
	if err := gen.Put(key.String(), ent); err != nil {
		metrics.RecordStoreError("put")
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Activate makes the installed generation current, removes stale
// generations and signals readiness. Calling it again is a no-op.
func (s *Service) Activate() error {
	s.mu.Lock()
	if s.installed == nil {
		s.mu.Unlock()
		return ErrNotInstalled
	}
	if s.state == StateActive && s.current == s.installed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateUpdating
	s.current = s.installed
	s.mu.Unlock()
	metrics.SetLifecycleState(int(StateUpdating))

	deleted, err := s.Cleanup()
	if err != nil {
		s.log.Error().Err(err).Msg("cleanup failed")
	}

	s.setState(StateActive)
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info().
		Str("generation", s.cfg.GenerationName()).
		Strs("deleted", deleted).
		Msg("generation active")
	return nil
}

// Cleanup deletes every generation that carries the cache prefix but is not
// this version's. A failure on one generation is logged and skipped.
func (s *Service) Cleanup() ([]string, error) {
	gens, err := s.store.Generations()
	if err != nil {
		metrics.RecordStoreError("list")
		return nil, fmt.Errorf("list generations: %w", err)
	}

	current := s.cfg.GenerationName()
	var deleted []string
	for _, g := range gens {
		if g.Name == current || !strings.HasPrefix(g.Name, s.cfg.Proxy.CachePrefix) {
			continue
		}
		ok, err := s.store.Delete(g.Name)
		if err != nil {
			metrics.RecordStoreError("delete")
			s.log.Warn().Err(err).Str("generation", g.Name).Msg("delete stale generation skipped")
			continue
		}
		if ok {
			metrics.RecordGenerationDeleted()
			s.log.Info().Str("generation", g.Name).Msg("deleted stale generation")
			deleted = append(deleted, g.Name)
		}
	}
	return deleted, nil
}

// Ready is closed once a generation of this version is active.
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetLifecycleState(int(st))
}

// Status is the admin view of the proxy.
type Status struct {
	State       string        `json:"state"`
	Version     string        `json:"version"`
	Policy      Policy        `json:"policy"`
	Generation  string        `json:"generation"`
	Controlling string        `json:"controlling,omitempty"`
	BasePrefix  string        `json:"basePrefix"`
	Generations []string      `json:"generations"`
	Entries     int           `json:"entries"`
	Bytes       int64         `json:"bytes"`
	Install     InstallReport `json:"install"`
}

func (s *Service) Status() (Status, error) {
	s.mu.RLock()
	st := Status{
		State:      s.state.String(),
		Version:    s.cfg.Proxy.Version,
		Policy:     s.cfg.policy,
		Generation: s.cfg.GenerationName(),
		BasePrefix: s.cfg.basePrefix,
		Install:    s.install,
	}
	cur := s.current
	s.mu.RUnlock()

	gens, err := s.store.Generations()
	if err != nil {
		return st, err
	}
	for _, g := range gens {
		st.Generations = append(st.Generations, g.Name)
	}
	if cur != nil {
		st.Controlling = cur.Name()
		if st.Entries, st.Bytes, err = cur.Size(); err != nil {
			return st, err
		}
	}
	return st, nil
}
