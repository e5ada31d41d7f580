package realtime

import (
	"fmt"
	"sort"
	"strings"
)

// StatusReport lists what the registry currently tracks.
type StatusReport struct {
	ActiveChannelCount  int      `json:"active_channel_count"`
	ChannelNames        []string `json:"channel_names"`
	PendingCleanupNames []string `json:"pending_cleanup_names"`
}

// HealthReport flags channel counts that suggest a subscription leak.
type HealthReport struct {
	ActiveChannelCount  int                        `json:"active_channel_count"`
	IsHealthy           bool                       `json:"is_healthy"`
	Warning             string                     `json:"warning,omitempty"`
	PerChannelRefCounts map[string]int             `json:"per_channel_ref_counts"`
	TeardownFailures    map[string]TeardownFailure `json:"teardown_failures,omitempty"`
}

// Status returns a snapshot of registered and pending-cleanup channels.
func (r *Registry) Status() StatusReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := StatusReport{
		ActiveChannelCount:  len(r.channels),
		ChannelNames:        make([]string, 0, len(r.channels)),
		PendingCleanupNames: make([]string, 0, len(r.pending)),
	}
	for name := range r.channels {
		report.ChannelNames = append(report.ChannelNames, name)
	}
	for name := range r.pending {
		report.PendingCleanupNames = append(report.PendingCleanupNames, name)
	}
	sort.Strings(report.ChannelNames)
	sort.Strings(report.PendingCleanupNames)
	return report
}

// Health evaluates the active channel count against the warning and
// critical thresholds. Recorded teardown failures are appended to the
// warning but do not by themselves make the registry unhealthy.
func (r *Registry) Health() HealthReport {
	r.mu.RLock()
	active := len(r.channels)
	refs := make(map[string]int, len(r.refs))
	for name, n := range r.refs {
		refs[name] = n
	}
	r.mu.RUnlock()

	report := HealthReport{
		ActiveChannelCount:  active,
		IsHealthy:           true,
		PerChannelRefCounts: refs,
	}

	var warnings []string
	switch {
	case active > r.cfg.CriticalThreshold:
		report.IsHealthy = false
		warnings = append(warnings, fmt.Sprintf("critical channel count: %d active channels (critical threshold %d, max %d)",
			active, r.cfg.CriticalThreshold, r.cfg.MaxChannels))
	case active > r.cfg.WarningThreshold:
		report.IsHealthy = false
		warnings = append(warnings, fmt.Sprintf("high channel count: %d active channels (warning threshold %d); possible subscription leak",
			active, r.cfg.WarningThreshold))
	}

	if failures := r.cleaner.snapshot(); len(failures) > 0 {
		report.TeardownFailures = failures
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		warnings = append(warnings, fmt.Sprintf("teardown failed for %d channel(s): %s",
			len(names), strings.Join(names, ", ")))
	}

	report.Warning = strings.Join(warnings, "; ")
	return report
}
