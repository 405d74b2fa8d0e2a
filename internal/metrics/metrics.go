// Package metrics exposes the client's Prometheus counters. A nil *Set is
// valid everywhere and counts nothing, so wiring metrics stays optional.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Set struct {
	eventsDecoded  *prometheus.CounterVec
	decodeFailures prometheus.Counter
	reconnects     prometheus.Counter
	buffered       prometheus.Counter
	replayed       prometheus.Counter
	resolutions    prometheus.Counter
}

// New builds the counter set and registers it with reg. Passing
// prometheus.DefaultRegisterer is the usual choice; tests pass a fresh
// registry.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		eventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_events_decoded_total",
			Help: "Protocol events decoded, by event kind.",
		}, []string{"kind"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_decode_failures_total",
			Help: "Frames dropped because they failed to decode.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_reconnect_attempts_total",
			Help: "Reconnection attempts after dirty connection closes.",
		}),
		buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_events_buffered_total",
			Help: "Events buffered for backgrounded sessions.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_events_replayed_total",
			Help: "Buffered events replayed on session activation.",
		}),
		resolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_widget_resolutions_total",
			Help: "Pending widget actions resolved or abandoned.",
		}),
	}
	reg.MustRegister(s.eventsDecoded, s.decodeFailures, s.reconnects, s.buffered, s.replayed, s.resolutions)
	return s
}

func (s *Set) EventDecoded(kind string) {
	if s == nil {
		return
	}
	s.eventsDecoded.WithLabelValues(kind).Inc()
}

func (s *Set) DecodeFailure() {
	if s == nil {
		return
	}
	s.decodeFailures.Inc()
}

func (s *Set) ReconnectAttempt() {
	if s == nil {
		return
	}
	s.reconnects.Inc()
}

func (s *Set) EventBuffered() {
	if s == nil {
		return
	}
	s.buffered.Inc()
}

func (s *Set) EventReplayed() {
	if s == nil {
		return
	}
	s.replayed.Inc()
}

func (s *Set) WidgetResolved() {
	if s == nil {
		return
	}
	s.resolutions.Inc()
}
