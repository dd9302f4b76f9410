package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/acctsync/internal/account"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a file was created or renamed into place.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to one status file.
type FileEvent struct {
	// Path is the absolute path of the file.
	Path string
	// Status is the lifecycle status the file holds.
	Status account.Status
	Op     EventOp
}

// FileWatcher watches the status files of a layout. Only files named in the
// layout produce events; temporary files written by exports are ignored.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	files   map[string]account.Status
}

// NewFileWatcher creates a watcher for the given status file paths.
// It must be started with Start before it emits events.
func NewFileWatcher(files map[string]account.Status) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs := make(map[string]account.Status, len(files))
	for p, st := range files {
		ap, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		abs[ap] = st
	}

	return &FileWatcher{
		watcher: w,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		files:   abs,
	}, nil
}

// Start watches every directory holding a status file. The files themselves
// need not exist yet.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher stopped")
	}

	dirs := make(map[string]bool)
	for p := range fw.files {
		dirs[filepath.Dir(p)] = true
	}
	var added []string
	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			for _, d := range added {
				_ = fw.watcher.Remove(d)
			}
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		added = append(added, dir)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching and closes the event channels. It blocks until the
// event loop has exited and is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	close(fw.done)
	err := fw.watcher.Close()
	if wasRunning {
		fw.wg.Wait()
	}
	close(fw.events)
	close(fw.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel of status file events. It is closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning reports whether the watcher is started.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fe, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fe:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event on a status file to a FileEvent.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}
	status, ok := fw.files[path]
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: path, Status: status, Op: op}, true
}
