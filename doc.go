// Package premiumclient coordinates the premium session for a dashboard
// surface over the host platform's fire-and-forget event bus. It layers a
// correlated request/response protocol on top of the bus, maintains the
// authentication/session state machine, serializes overlapping coarse
// operations, and reconciles optimistic resource mutations against
// authoritative backend state.
//
// Layers & Roles
//
//	bus.Bus            -> transport: publish + subscribe, no pairing
//	internal/correlate -> pending-request table keyed by correlation id
//	session.State      -> authentication state machine + counters + resources
//	Client             -> dispatch table, subscription lifecycle, public API
//
// # Lifecycle
//
// A Client is explicitly constructed and injected into consumers; there is no
// ambient singleton. Start subscribes the fixed set of response channels;
// Close tears every subscription down and rejects in-flight requests. If the
// connection is replaced, Rebind re-establishes subscriptions from scratch
// and a generation counter guarantees stale handlers from the prior
// connection can never touch current state.
//
// # State flow
//
// Canonical state changes always flow through the broadcast dispatch path:
// request-issuing call sites only use their return value for local flow
// control. Every inbound response is applied to session state whether or not
// a caller is waiting on it, because the backend also pushes unsolicited
// messages (restores, shared auth from another surface, usage ticks,
// room-limit notifications).
package premiumclient
