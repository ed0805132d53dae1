package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"resona/internal/config"
	"resona/internal/diagnostics"
	"resona/internal/featurecache"
	"resona/internal/journal"
	"resona/internal/logging"
	"resona/internal/snapshot"
	"resona/internal/timeline"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger builds a logger that writes to the configured log file only, so
// command output stays clean.
func (c *commandContext) cliLogger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil || cfg.Paths.LogDir == "" {
		return logging.NewNop()
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  "json",
		Outputs: []string{filepath.Join(cfg.Paths.LogDir, "resona.log")},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// session bundles one loaded session document with a diagnostics store built
// from it.
type session struct {
	path     string
	doc      *snapshot.Document
	provider *timeline.MemoryProvider
	store    *diagnostics.Store
	journal  *journal.Store
}

// loadSession replays the session document into a diagnostics store. When
// withJournal is set, jobs and history are recorded in the state-dir journal.
func (c *commandContext) loadSession(path string, withJournal bool) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	doc, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	registry, err := doc.Registry()
	if err != nil {
		return nil, err
	}
	provider := doc.Provider(registry)

	var opts []diagnostics.Option
	var journalStore *journal.Store
	if withJournal {
		journalStore, err = journal.Open(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, diagnostics.WithJournal(journalStore))
	}

	sessionCfg := *cfg
	if strings.TrimSpace(doc.DefaultProfile) != "" {
		sessionCfg.Analysis.DefaultProfile = doc.DefaultProfile
	}

	store, err := diagnostics.New(&sessionCfg, c.cliLogger(), registry, provider, opts...)
	if err != nil {
		if journalStore != nil {
			_ = journalStore.Close()
		}
		return nil, err
	}
	for _, intent := range doc.Intents {
		if err := store.PublishIntent(intent); err != nil {
			if journalStore != nil {
				_ = journalStore.Close()
			}
			return nil, fmt.Errorf("publish intent %s: %w", intent.ElementID, err)
		}
	}
	store.Recompute()

	return &session{
		path:     path,
		doc:      doc,
		provider: provider,
		store:    store,
		journal:  journalStore,
	}, nil
}

// save writes the session document back, capturing cache mutations made by
// regeneration or extraneous deletion.
func (s *session) save() error {
	for source := range s.doc.Caches {
		if cache, ok := s.provider.Cache(source); ok {
			s.doc.Caches[source] = cache
		}
	}
	// Regeneration may have created caches for sources the document lacked.
	for _, result := range s.store.Diffs() {
		if _, known := s.doc.Caches[result.AudioSourceID]; known {
			continue
		}
		if cache, ok := s.provider.Cache(result.AudioSourceID); ok {
			if s.doc.Caches == nil {
				s.doc.Caches = make(map[string]*featurecache.Cache)
			}
			s.doc.Caches[result.AudioSourceID] = cache
		}
	}
	return snapshot.Save(s.path, s.doc)
}

func (s *session) close() {
	s.store.Scheduler().Wait()
	if s.journal != nil {
		_ = s.journal.Close()
	}
}
