package registry

import (
	"time"
)

const (
	// mountPollInterval paces presence checks of configured mounts
	mountPollInterval = 2 * time.Second
	// mountDebounce absorbs mount-event bursts (boot, USB hubs) so a
	// cascade of arrivals does not fan out into parallel rebuilds
	mountDebounce = 100 * time.Millisecond
)

// watchMounts polls the presence of every configured mount, folds
// changes through the debounce window, and routes them into the state
// machine. A platform watcher may nudge the poll ahead of schedule.
func (r *Registry) watchMounts() {
	defer r.wg.Done()

	nudge, stopWatch := startMountWatch(r.cfg.EnabledVolumes(), r.logger)
	defer stopWatch()

	present := make(map[string]bool)
	for _, mount := range r.cfg.EnabledVolumes() {
		present[mount] = mountPresent(mount)
	}

	type change struct {
		mount    string
		attached bool
	}
	var pending []change
	debounce := time.NewTimer(mountDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	poll := func() {
		for _, mount := range r.cfg.EnabledVolumes() {
			now := mountPresent(mount)
			if now == present[mount] {
				continue
			}
			present[mount] = now
			pending = append(pending, change{mount: mount, attached: now})
		}
		if len(pending) > 0 {
			debounce.Reset(mountDebounce)
		}
	}

	ticker := time.NewTicker(mountPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			poll()
		case <-nudge:
			poll()
		case <-debounce.C:
			for _, c := range pending {
				if c.attached {
					r.logger.Info().Str("mount", c.mount).Msg("Mount attached")
					r.HandleMount(c.mount)
				} else {
					r.logger.Info().Str("mount", c.mount).Msg("Mount detached")
					r.HandleUnmount(c.mount)
				}
			}
			pending = nil
		case <-r.ctx.Done():
			return
		}
	}
}
