package ranker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"falforge/internal/domain"
)

const defaultReloadDebounce = 200 * time.Millisecond

// builtinScores is the shipped curation table. Entries reflect hand-tested
// output quality on the public endpoints; anything absent scores
// domain.DefaultQualityScore. A TOML overrides file can amend or extend it.
var builtinScores = map[string]int{
	"fal-ai/flux/dev":                                98,
	"fal-ai/flux-pro/v1.1-ultra":                     97,
	"fal-ai/flux-pro/kontext":                        96,
	"fal-ai/veo3":                                    96,
	"fal-ai/recraft/v3/text-to-image":                94,
	"fal-ai/flux/schnell":                            93,
	"fal-ai/kling-video/v2.1/standard/text-to-video": 92,
	"fal-ai/flux-realism":                            91,
	"fal-ai/ideogram/v2":                             90,
	"fal-ai/flux/dev/image-to-image":                 90,
	"fal-ai/stable-diffusion-v35-large":              88,
	"fal-ai/minimax/video-01":                        87,
	"fal-ai/clarity-upscaler":                        86,
	"fal-ai/luma-dream-machine":                      85,
	"fal-ai/playai/tts/v3":                           84,
	"fal-ai/aura-sr":                                 83,
	"fal-ai/aura-flow":                               82,
	"fal-ai/trellis":                                 81,
}

// curatedOverrides is the on-disk overrides file shape.
type curatedOverrides struct {
	Scores map[string]int `toml:"scores"`
}

// CuratedTable holds the active quality scores. Lookups are lock-free; the
// overrides file is re-read when it changes on disk.
type CuratedTable struct {
	logger *zap.Logger
	path   string

	scores atomic.Value // map[string]int

	reloadMu  sync.Mutex
	watchOnce sync.Once
}

// NewCuratedTable builds the score table from the built-in defaults merged
// with the overrides file at path. An empty path means defaults only.
func NewCuratedTable(path string, logger *zap.Logger) (*CuratedTable, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &CuratedTable{
		logger: logger.Named("curated"),
		path:   path,
	}
	merged, err := t.load()
	if err != nil {
		return nil, err
	}
	t.scores.Store(merged)
	return t, nil
}

// Score returns the curated quality score for an endpoint, or
// domain.DefaultQualityScore when the endpoint is not curated.
func (t *CuratedTable) Score(endpointID string) int {
	if score, ok := t.scores.Load().(map[string]int)[endpointID]; ok {
		return score
	}
	return domain.DefaultQualityScore
}

// Curated reports whether the endpoint has an explicit score.
func (t *CuratedTable) Curated(endpointID string) bool {
	_, ok := t.scores.Load().(map[string]int)[endpointID]
	return ok
}

// Len returns the number of curated entries.
func (t *CuratedTable) Len() int {
	return len(t.scores.Load().(map[string]int))
}

// Watch re-reads the overrides file whenever it changes, until ctx ends.
// It is a no-op when the table was built without an overrides file.
func (t *CuratedTable) Watch(ctx context.Context) {
	if t.path == "" {
		return
	}
	t.watchOnce.Do(func() {
		go t.runWatcher(ctx)
	})
}

// Reload re-reads the overrides file immediately.
func (t *CuratedTable) Reload() error {
	t.reloadMu.Lock()
	defer t.reloadMu.Unlock()

	merged, err := t.load()
	if err != nil {
		return err
	}
	t.scores.Store(merged)
	t.logger.Info("curated scores reloaded", zap.Int("entries", len(merged)))
	return nil
}

func (t *CuratedTable) load() (map[string]int, error) {
	merged := make(map[string]int, len(builtinScores))
	for id, score := range builtinScores {
		merged[id] = score
	}
	if t.path == "" {
		return merged, nil
	}

	raw, err := os.ReadFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("read curated overrides: %w", err)
	}
	var overrides curatedOverrides
	if err := toml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse curated overrides: %w", err)
	}
	for id, score := range overrides.Scores {
		if score < 0 || score > 100 {
			return nil, fmt.Errorf("curated override %q: score %d out of range [0,100]", id, score)
		}
		merged[id] = score
	}
	return merged, nil
}

func (t *CuratedTable) runWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("overrides watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file on save, which drops a
	// watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Warn("overrides watcher add failed", zap.String("path", t.path), zap.Error(err))
		return
	}

	base := filepath.Base(t.path)
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				t.logger.Warn("overrides watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Base(event.Name) != base {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(defaultReloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(defaultReloadDebounce)
		case <-timerChan(timer):
			timer = nil
			if err := t.Reload(); err != nil {
				t.logger.Warn("overrides reload failed, keeping previous table", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
