package realtime

import "time"

type readiness int

const (
	notReady readiness = iota
	ready
	failed
)

// readinessOf is the single place that decides whether a joining channel may
// be handed out.
//
// Besides the plain "joined" case it carries a workaround: some transports
// keep reporting "joining" after a reconnect even though the subscription is
// usable. A channel stuck in joining for at least stuckThreshold that the
// transport lists as server-acknowledged is treated as ready. A join the
// server never answered is not listed, so it still times out.
func readinessOf(tr Transport, ch Channel, joiningFor, stuckThreshold time.Duration) readiness {
	switch ch.State() {
	case StateJoined:
		return ready
	case StateErrored, StateClosed, StateLeaving:
		return failed
	case StateJoining:
		if stuckThreshold > 0 && joiningFor >= stuckThreshold && transportHolds(tr, ch) {
			return ready
		}
	}
	return notReady
}

func transportHolds(tr Transport, ch Channel) bool {
	for _, c := range tr.Channels() {
		if c == ch {
			return true
		}
	}
	return false
}
