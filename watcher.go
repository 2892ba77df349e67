package main

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/maxsupermanhd/SlideChunk/tiler"
)

// sourceWatcher drops the chunk cache once its source file changes on disk.
// Parent directories are watched so replace-by-rename is noticed too.
type sourceWatcher struct {
	engine  *tiler.Engine
	w       *fsnotify.Watcher
	lock    sync.Mutex
	sources map[string]string
	dirs    map[string]struct{}
}

func newSourceWatcher(engine *tiler.Engine) (*sourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &sourceWatcher{
		engine:  engine,
		w:       w,
		sources: map[string]string{},
		dirs:    map[string]struct{}{},
	}, nil
}

// Track starts watching path as given to the engine.
func (s *sourceWatcher) Track(path string) {
	if s == nil {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		log.Printf("Not watching %q: %v", path, err)
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sources[abs] = path
	dir := filepath.Dir(abs)
	if _, ok := s.dirs[dir]; ok {
		return
	}
	if err := s.w.Add(dir); err != nil {
		log.Printf("Failed to watch %s: %v", dir, err)
		return
	}
	s.dirs[dir] = struct{}{}
	log.Printf("Watching %s for source changes", dir)
}

func (s *sourceWatcher) take(name string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	path, ok := s.sources[filepath.Clean(name)]
	if ok {
		delete(s.sources, filepath.Clean(name))
	}
	return path, ok
}

func (s *sourceWatcher) run(exitchan <-chan struct{}) {
	defer s.w.Close()
	for {
		select {
		case event, ok := <-s.w.Events:
			if !ok {
				log.Println("Source watcher failed to read from events channel")
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			path, ok := s.take(event.Name)
			if !ok {
				continue
			}
			msg, err := s.engine.ClearCacheFor(path)
			if err != nil {
				log.Printf("Source %q changed (%s), clearing cache failed: %v", path, event.Op, err)
				continue
			}
			log.Printf("Source %q changed (%s): %s", path, event.Op, msg)
		case err, ok := <-s.w.Errors:
			if !ok {
				log.Println("Source watcher failed to read from error channel")
				return
			}
			log.Println("Source watcher error:", err)
		case <-exitchan:
			return
		}
	}
}
