package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type fixtureDocument struct {
	Features map[string]fixtureFeature `yaml:"features"`
}

type fixtureFeature struct {
	Value      any               `yaml:"value"`
	Source     Source            `yaml:"source,omitempty"`
	RuleID     string            `yaml:"ruleId,omitempty"`
	Experiment *ExperimentResult `yaml:"experiment,omitempty"`
}

// ParseFixtures decodes a YAML fixture document:
//
//	features:
//	  show-feature:
//	    value: true
//	  button-color:
//	    value: red
//	    source: experiment
//	    experiment: {key: button-test, variationId: 1, variationKey: red, inExperiment: true}
//
// A feature without a source is treated as forced.
func ParseFixtures(data []byte) (map[string]FeatureResult, error) {
	var doc fixtureDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	// A truncated file mid-write decodes to nothing; do not mistake it for an empty table.
	if doc.Features == nil {
		return nil, fmt.Errorf("failed to parse fixtures: missing features section")
	}

	features := make(map[string]FeatureResult, len(doc.Features))
	for key, f := range doc.Features {
		if key == "" {
			return nil, fmt.Errorf("failed to parse fixtures: empty feature key")
		}
		source := f.Source
		if source == "" {
			source = SourceForce
		}
		res := NewFeatureResult(f.Value, source)
		res.RuleID = f.RuleID
		res.Experiment = f.Experiment
		features[key] = res
	}
	return features, nil
}

// LoadFile reads and parses a YAML fixture file.
func LoadFile(path string) (map[string]FeatureResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// FileEngine is a Static engine backed by a YAML fixture file. After
// Initialize it watches the file and reloads it on change.
type FileEngine struct {
	*Static
	Broadcaster

	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	etag    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileEngine creates an engine for the fixture file at path. Nothing is
// read until Initialize.
func NewFileEngine(path string, logger zerolog.Logger) *FileEngine {
	return &FileEngine{
		Static: NewStatic(nil),
		path:   filepath.Clean(path),
		logger: logger.With().Str("component", "fixtures").Str("path", path).Logger(),
	}
}

// Initialize loads the file and starts watching it. Calling it again after a
// successful start is a no-op.
func (e *FileEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.watcher != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	features, err := LoadFile(e.path)
	if err != nil {
		return err
	}
	e.Static.Replace(features)
	e.etag = ETag(features)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory so editors that replace the file atomically are seen.
	if err := watcher.Add(filepath.Dir(e.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch fixtures directory: %w", err)
	}
	e.watcher = watcher
	e.done = make(chan struct{})
	go e.watch(watcher, e.done)

	e.logger.Info().Int("features", len(features)).Msg("fixtures loaded")
	return nil
}

func (e *FileEngine) watch(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != e.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
				e.reload()
			case ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove):
				// A file renamed onto path arrives as Create; until then keep serving.
				if _, err := os.Stat(e.path); err == nil {
					e.reload()
				} else {
					e.logger.Warn().Msg("fixtures file moved away, keeping previous features")
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			e.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// reload re-reads the file. Parse failures keep the previous table.
func (e *FileEngine) reload() {
	features, err := LoadFile(e.path)
	if err != nil {
		e.logger.Warn().Err(err).Msg("fixtures reload failed, keeping previous features")
		e.Publish(Change{Err: err})
		return
	}

	etag := ETag(features)
	e.mu.Lock()
	unchanged := etag == e.etag
	e.etag = etag
	e.mu.Unlock()
	if unchanged {
		return
	}

	keys := e.Static.Replace(features)
	e.logger.Info().Strs("changed", keys).Msg("fixtures reloaded")
	e.Publish(Change{Keys: keys})
}

// Close stops the watcher.
func (e *FileEngine) Close() error {
	e.mu.Lock()
	w, done := e.watcher, e.done
	e.watcher = nil
	e.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
