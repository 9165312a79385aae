package configs

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type Read[T any] interface {
	FilePath() string
	ReadConfig() (T, error)
}

type fileManager[T any] struct {
	file    Read[T]
	watcher *fsnotify.Watcher
	onError func(error)
}

// NewFileManger reloads conf whenever its file is written or replaced. The
// directory is watched so that editors that rename over the file are seen.
// onError receives read and watch failures and may be nil.
func NewFileManger[T any](conf Read[T], onError func(error)) (*FileManager[T], error) {
	watcher, fileWatchErr := fsnotify.NewWatcher()
	if fileWatchErr != nil {
		return nil, fileWatchErr
	}

	if addErr := watcher.Add(filepath.Dir(conf.FilePath())); addErr != nil {
		watcher.Close()
		return nil, addErr
	}
	if onError == nil {
		onError = func(error) {}
	}
	manager := NewManager[T](&fileManager[T]{
		file:    conf,
		watcher: watcher,
		onError: onError,
	})
	return &FileManager[T]{ConfigManager: manager, watcher: watcher}, nil
}

// FileManager is a ConfigManager fed by a watched file.
type FileManager[T any] struct {
	*ConfigManager[T]
	watcher *fsnotify.Watcher
}

// Close stops watching; every module channel is closed afterwards.
func (f *FileManager[T]) Close() error {
	return f.watcher.Close()
}

func (f *fileManager[T]) Reload(update chan<- T) {
	defer close(update)

	target := filepath.Clean(f.file.FilePath())
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			data, readErr := f.file.ReadConfig()
			if readErr != nil {
				f.onError(readErr)
				continue
			}
			update <- data
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.onError(err)
		}
	}
}
