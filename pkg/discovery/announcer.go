package discovery

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/internal/parser"
	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
	"github.com/agaabrieel/bittorrent-live/pkg/tracker"
)

type AnnouncerOptions struct {
	// LiveStreaming adds LiveStreaming=1 to regular updates.
	LiveStreaming bool
	Parser        ParserOptions
}

// Announcer talks to the tracker: it joins the swarm, reannounces on a
// self-rescheduling loop and asks for seeders on demand. Responses are
// applied through its ResponseParser.
type Announcer struct {
	cfg       Config
	host      Host
	transport Transport
	sched     scheduler.Scheduler
	logger    *zap.Logger
	metrics   *Metrics
	opts      AnnouncerOptions

	params     AnnounceParameters
	parser     *ResponseParser
	candidates *CandidateSet

	active    bool
	connected bool
	notified  bool
	stopped   bool
	next      *scheduler.Event
}

func NewAnnouncer(deps Deps, candidates *CandidateSet, opts AnnouncerOptions) *Announcer {
	deps.defaults()
	a := &Announcer{
		cfg:        deps.Config,
		host:       deps.Host,
		transport:  deps.Transport,
		sched:      deps.Scheduler,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		opts:       opts,
		candidates: candidates,
	}
	a.parser = NewResponseParser(opts.Parser, deps.Config.RefreshCycles, &a.params,
		candidates, deps.Host.LocalAddr, deps.Logger)
	return a
}

// ConnectToSwarm sends the STARTED announce, raises connectivity and
// starts the reannounce loop. A send failure is only logged; the loop is
// the retry.
func (a *Announcer) ConnectToSwarm() {
	a.logger.Info("joining swarm",
		zap.String("stream", a.host.StreamHash()),
		zap.Stringer("local", a.host.LocalAddr()))

	a.announce(tracker.Started, a.baseParams(a.host.StreamHash()), true)
	a.active = true
	a.notify()
	a.Reannounce()
}

// Reannounce sends a non-preempting regular update when the channel is
// active, then re-arms itself with the latest renewal interval.
func (a *Announcer) Reannounce() {
	if a.stopped {
		return
	}
	if a.active {
		params := a.baseParams(a.host.StreamHash())
		if a.opts.LiveStreaming {
			params[tracker.ParamLiveStreaming] = "1"
		}
		a.announce(tracker.RegularUpdate, params, false)
	}

	a.next.Cancel()
	a.next = a.sched.Schedule(a.params.interval(a.cfg.DefaultReannounceInterval), a.Reannounce)
}

// RequestSeeder asks the tracker for a seed of one stream.
func (a *Announcer) RequestSeeder(streamHash string) {
	if a.stopped {
		return
	}
	a.announce(tracker.GetSeeder, a.baseParams(streamHash), true)
}

func (a *Announcer) Stop() {
	a.stopped = true
	a.active = false
	a.next.Cancel()
}

func (a *Announcer) baseParams(stream string) map[string]string {
	return map[string]string{
		tracker.ParamPeerType:   a.host.PeerType(),
		tracker.ParamStreamHash: stream,
	}
}

func (a *Announcer) announce(event tracker.Event, params map[string]string, exclusive bool) {
	if a.params.TrackerID != "" {
		params[tracker.ParamTrackerID] = a.params.TrackerID
	}
	req := tracker.Request{
		Event:     event,
		NumWant:   1,
		Params:    params,
		Exclusive: exclusive,
	}

	err := a.transport.Announce(req, func(body []byte, err error) {
		a.complete(event, body, err)
	})
	if err != nil {
		a.metrics.AnnounceFailures.WithLabelValues(event.String()).Inc()
		if errors.Is(err, tracker.ErrBusy) {
			a.logger.Debug("announce deferred to next cycle", zap.Stringer("event", event))
			return
		}
		a.logger.Warn("announce not sent", zap.Stringer("event", event), zap.Error(err))
		return
	}
	a.metrics.Announces.WithLabelValues(event.String()).Inc()
}

func (a *Announcer) complete(event tracker.Event, body []byte, err error) {
	if a.stopped {
		return
	}
	if err != nil {
		a.metrics.AnnounceFailures.WithLabelValues(event.String()).Inc()
		a.logger.Warn("announce failed", zap.Stringer("event", event), zap.Error(err))
		return
	}
	_ = a.HandleResponse(body)
}

// HandleResponse decodes and applies one response body. Malformed and
// failure responses are logged and returned; an unsupported peer list is
// also reported to the host as fatal.
func (a *Announcer) HandleResponse(body []byte) error {
	root, err := parser.Decode(body)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	} else {
		_, err = a.parser.Parse(root)
	}
	a.metrics.Candidates.Set(float64(a.candidates.Len()))

	switch {
	case err == nil:
		a.metrics.Responses.WithLabelValues(resultOK).Inc()
		a.notify()
		a.connected = true
	case errors.Is(err, ErrUnsupportedPeerList):
		a.metrics.Responses.WithLabelValues(resultUnsupported).Inc()
		a.logger.Error("tracker and node disagree on peer list format", zap.Error(err))
		a.host.Fatal(err)
	case errors.Is(err, ErrTrackerFailure):
		a.metrics.Responses.WithLabelValues(resultFailure).Inc()
		a.logger.Warn("tracker refused announce", zap.Error(err))
	default:
		a.metrics.Responses.WithLabelValues(resultMalformed).Inc()
		a.logger.Warn("discarding tracker response", zap.Error(err))
	}
	return err
}

func (a *Announcer) notify() {
	if a.notified {
		return
	}
	a.notified = true
	a.host.ConnectivityEstablished()
}

func (a *Announcer) Params() AnnounceParameters {
	return a.params
}

func (a *Announcer) Active() bool {
	return a.active
}

// ConnectedToSwarm reports whether a response has been applied.
func (a *Announcer) ConnectedToSwarm() bool {
	return a.connected
}
