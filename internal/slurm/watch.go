package slurm

import (
	"github.com/fsnotify/fsnotify"
)

// Watch notifies on changed whenever any configured SLURM file is
// written or renamed into place (a common atomic-replace pattern for
// config files), so the orchestrator can trigger an SLURM-only reapply
// without waiting for the next full refresh cycle (spec 10 ambient
// stack: "exceptions paths are watched ... so a reload can be triggered
// by a file change in addition to SIGUSR1").
func (p *Processor) Watch(changed chan<- struct{}) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	paths := append([]string(nil), p.paths...)
	p.mu.Unlock()

	for _, path := range paths {
		if err := w.Add(path); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("slurm: cannot watch exceptions file")
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					select {
					case changed <- struct{}{}:
					default: // a reload is already pending, don't block
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.log.Warn().Err(err).Msg("slurm: watch error")
			}
		}
	}()

	return w, nil
}
