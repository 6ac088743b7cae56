package memory

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 500 * time.Millisecond

// watcher marks the index dirty when markdown files change on disk.
// Events are debounced so an editor save burst triggers one re-sync.
type watcher struct {
	fs       *fsnotify.Watcher
	log      zerolog.Logger
	onChange func()
	timer    *time.Timer
	stopCh   chan struct{}
}

func newWatcher(log zerolog.Logger, onChange func()) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:       fw,
		log:      log,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *watcher) watch(dir string) error {
	return w.fs.Add(dir)
}

func (w *watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Note changed")
			w.schedule()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// schedule resets the debounce timer. Only the run goroutine touches
// w.timer.
func (w *watcher) schedule() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.onChange)
}

func (w *watcher) stop() {
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.fs.Close()
}
