package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/models"
)

// profileDebounce coalesces the burst of write events editors and
// deploy tooling emit for a single save.
const profileDebounce = 500 * time.Millisecond

// ProfileWatcher reloads the capability-profiles file on change and
// hands the merged result to the registered callback. The parent
// directory is watched, not the file, because atomic saves replace the
// file via rename.
type ProfileWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onReload func([]models.ProviderCapabilities)
	logger   *logrus.Logger

	mu       sync.Mutex
	debounce *time.Timer
	stopCh   chan struct{}
}

// NewProfileWatcher builds a watcher for the given profiles file. Start
// must be called to begin delivering reloads.
func NewProfileWatcher(path string, logger *logrus.Logger, onReload func([]models.ProviderCapabilities)) (*ProfileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ProfileWatcher{
		watcher:  watcher,
		path:     filepath.Clean(path),
		onReload: onReload,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

func (w *ProfileWatcher) Start() {
	go w.watchLoop()
	w.logger.WithField("path", w.path).Info("Watching capability profiles")
}

func (w *ProfileWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()

	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
}

func (w *ProfileWatcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Profile watcher error")
		}
	}
}

func (w *ProfileWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(profileDebounce, w.reload)
}

// reload re-parses the profiles file. A broken file keeps the previous
// profiles in effect; the error is logged and the callback is skipped.
func (w *ProfileWatcher) reload() {
	profiles, err := LoadCapabilityProfiles(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Capability profile reload failed, keeping previous profiles")
		return
	}

	w.logger.WithFields(logrus.Fields{
		"path":     w.path,
		"profiles": len(profiles),
	}).Info("Capability profiles reloaded")

	if w.onReload != nil {
		w.onReload(profiles)
	}
}
