package log

import (
	"fmt"
	"strings"
)

// LogOptions applies a command line channel selection. channels is a comma
// separated list of channel names, or "*" / "all" for every channel; listed
// channels are enabled and every other known channel is disabled. With
// showLogs the known channels are printed and the process exits with -1.
func (r *Registry) LogOptions(channels string, showLogs bool, owner *Logger) {
	names := r.Loggers()
	if showLogs {
		if owner != nil {
			owner.Infof("Logs available - %v", names)
		}
		fmt.Fprintln(r.notice, "Logs available:")
		for _, name := range names {
			fmt.Fprintf(r.notice, "  %s\n", name)
		}
		r.exit(-1)
		return
	}

	wanted := make(map[string]bool)
	switch strings.TrimSpace(channels) {
	case "*", "all":
		for _, name := range names {
			wanted[name] = true
		}
	default:
		for _, name := range strings.Split(channels, ",") {
			if name = strings.TrimSpace(name); name != "" {
				wanted[name] = true
			}
		}
	}

	for _, name := range names {
		if wanted[name] {
			r.Enable(name)
		} else {
			r.Disable(name)
		}
	}
	// channels named before they exist are enabled on creation
	for name := range wanted {
		r.mux.Lock()
		if _, ok := r.loggers[name]; !ok {
			r.pending[name] = true
		}
		r.mux.Unlock()
	}

	if owner != nil {
		enabled := make([]string, 0, len(wanted))
		for _, name := range r.Loggers() {
			if r.IsEnabled(name) {
				enabled = append(enabled, name)
			}
		}
		owner.Infof("Enable logs - %v", enabled)
	}
}
