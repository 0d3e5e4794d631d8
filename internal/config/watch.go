package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "allybot/pkg/logx"
)

const (
	settleDelay     = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

var errWatcherGone = errors.New("watcher closed")

// Watch reloads the config whenever its file changes and returns when ctx
// ends. The parent directory is watched so editors that replace the file by
// rename keep working. A broken watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("dir", dir), logx.String("file", file))

	// one timer coalesces bursts of events from a single save
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	wait := rewatchMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, file, settle, log, func() { wait = rewatchMin })
		if ctx.Err() != nil {
			break
		}
		d := wait + rand.N(wait/2+1)
		wait = min(wait*2, rewatchMax)
		log.Warn("config watcher down; retrying", logx.Err(err), logx.Duration("backoff", d))
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it fails or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, settle *time.Timer, log logx.Logger, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	log.Debug("config watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherGone
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				settle.Reset(settleDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherGone
			}
			switch {
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events were lost; the file may have changed
				log.Warn("config watch overflow", logx.Err(err))
				settle.Reset(settleDelay)
			case errors.Is(err, fsnotify.ErrClosed):
				return err
			default:
				log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
