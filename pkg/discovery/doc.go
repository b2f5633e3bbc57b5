// Package discovery finds swarm members through a tracker and maintains the
// outbound connections to them.
//
// A Strategy ties four parts together:
//
//   - the Announcer contacts the tracker on start, on a self-rescheduling
//     reannounce loop and on seeder requests;
//   - the ResponseParser turns each decoded response into AnnounceParameters
//     updates and CandidateSet insertions;
//   - the Connector dials candidates and tracks every address through
//     pending and connected;
//   - Subscriptions queues per-stream SUBSCRIBE requests until a connection
//     is established.
//
// Everything runs on the single thread of a scheduler.Scheduler. Transports
// and connection objects report back by posting onto that thread, so none of
// the state here is locked.
package discovery
