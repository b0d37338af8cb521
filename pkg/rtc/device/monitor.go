package device

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// Monitor tells whether a device node is still there.
// Presence is a heuristic: the node can exist while the device
// doesn't respond.
type Monitor interface {
	IsPresent(path string) bool
}

// StatMonitor checks presence on the filesystem.
type StatMonitor struct{}

// IsPresent implements Monitor.
func (StatMonitor) IsPresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Watcher watches the directory of a device node and latches its removal.
// Once removed, the device is reported absent even if a node with the same
// name shows up again: an open connection stays bound to the old node.
type Watcher struct {
	Path string

	watcher *fsnotify.Watcher
	lock    sync.Mutex
	removed bool
	done    chan struct{}
}

// Watch starts watching path.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	if err = fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{Path: path, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// IsPresent implements Monitor.
func (w *Watcher) IsPresent(path string) bool {
	if filepath.Clean(path) == w.Path && w.Removed() {
		return false
	}
	return StatMonitor{}.IsPresent(path)
}

// Removed tells whether removal of the node has been seen.
func (w *Watcher) Removed() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.removed
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			glog.Warningf("watch %s: %v", w.Path, err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.Path {
		return
	}
	glog.V(3).Infof("%s: %s", w.Path, event.Op)
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.lock.Lock()
		w.removed = true
		w.lock.Unlock()
		glog.Warningf("%s removed", w.Path)
	}
}
