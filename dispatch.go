package premiumclient

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/growhaus/premium-client-go/bus"
	"github.com/growhaus/premium-client-go/internal/logctx"
	"github.com/growhaus/premium-client-go/session"
	"github.com/growhaus/premium-client-go/wire"
)

// onResponse is the single inbound handler bound to every response channel.
func (c *Client) onResponse(ctx context.Context, channel string, evt bus.Event) {
	var resp wire.Response
	if err := json.Unmarshal(evt.Data, &resp); err != nil {
		c.log.Warn("dropping malformed response",
			slog.String("channel", channel), slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithEventData(ctx, &logctx.EventData{
		Channel:       channel,
		Tag:           string(resp.Message),
		CorrelationID: resp.CorrelationID,
	})
	c.dispatch(ctx, &resp)
}

// dispatch routes one inbound response. The correlation rendezvous and the
// state-update handler run independently: a waiting caller is woken whether
// or not the message tag is recognized, and state is updated whether or not
// anyone is waiting, because many messages arrive unsolicited.
func (c *Client) dispatch(ctx context.Context, resp *wire.Response) {
	if resp.CorrelationID != "" {
		var delivered bool
		if resp.Ok() {
			delivered = c.table.Resolve(resp.CorrelationID, resp)
		} else {
			delivered = c.table.Reject(resp.CorrelationID, rejectionError(resp))
		}
		if !delivered {
			// Late, duplicate, or nobody cared. All expected.
			c.log.DebugContext(ctx, "no pending request for correlated response")
		}
	}

	c.apply(ctx, resp)
}

// apply invokes the state-update handler for the message tag. Each message is
// isolated: a panicking or malformed handler run is logged and must never
// prevent later messages from being processed.
func (c *Client) apply(ctx context.Context, resp *wire.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.ErrorContext(ctx, "state handler panicked", slog.Any("panic", rec))
		}
	}()

	switch resp.Message {
	case wire.TagLoginSuccess:
		c.enterAuthenticated(ctx, resp, session.CauseLogin)

	case wire.TagStateRestored:
		c.enterAuthenticated(ctx, resp, session.CauseRestore)

	case wire.TagAuthShared:
		c.enterAuthenticated(ctx, resp, session.CauseSharedAuth)

	case wire.TagLogoutSuccess:
		c.state.Reset()
		c.resources.Replace(nil)
		c.clearSelectionIf("")

	case wire.TagProfileRetrieved:
		var p wire.SessionPayload
		if !c.decode(ctx, resp.Data, &p) {
			return
		}
		if err := c.state.ApplyProfile(&p); err != nil {
			// Security invariant: a profile without a user identity means
			// the session must not be treated as authenticated. Self-heal
			// silently; the UI simply reflects logged-out.
			c.log.WarnContext(ctx, "profile carries no user identity, forcing logout")
			c.resources.Replace(nil)
			c.clearSelectionIf("")
		}

	case wire.TagResourceList:
		var p wire.ResourceListPayload
		if !c.decode(ctx, resp.Data, &p) {
			return
		}
		c.resources.Replace(p.Resources)
		c.dropDanglingSelection()

	case wire.TagUsageUpdated, wire.TagSessionCount:
		var p wire.UsagePayload
		if !c.decode(ctx, resp.Data, &p) {
			return
		}
		c.state.PatchCounters(p.ActiveSessionCount, p.MaxSessionCount)

	case wire.TagRoomLimitReached, wire.TagResourceLimit:
		c.state.SetRoomLimit(true)

	case wire.TagNotAuthenticated:
		c.state.SetError(string(resp.Message))

	default:
		// Forward compatibility: the backend grows tags faster than clients
		// update.
		c.log.DebugContext(ctx, "ignoring unrecognized message tag")
	}
}

func (c *Client) decode(ctx context.Context, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.log.WarnContext(ctx, "dropping malformed payload", slog.String("err", err.Error()))
		return false
	}
	return true
}

// enterAuthenticated lands the session in the authenticated state. Only a
// fresh login chains the profile and resource reloads with auto-switch; a
// restore or shared-auth broadcast populates state and nothing else.
func (c *Client) enterAuthenticated(ctx context.Context, resp *wire.Response, cause session.EntryCause) {
	var p wire.SessionPayload
	if !c.decode(ctx, resp.Data, &p) {
		return
	}

	if err := c.state.EnterAuthenticated(cause, &p); err != nil {
		c.log.WarnContext(ctx, "dropping authenticated state without user identity",
			slog.String("cause", cause.String()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		UserID: p.User.ID,
		Status: string(session.StatusAuthenticated),
	})
	c.log.InfoContext(ctx, "session authenticated", slog.String("cause", cause.String()))

	if cause == session.CauseLogin {
		gen := c.generation.Load()
		go c.postLoginReload(gen)
	}
}

// postLoginReload chains the profile and resource-list loads that follow a
// fresh login, then auto-switches the selection to the active resource. Every
// step re-checks the generation so a teardown or reconnect in between makes
// the continuation a no-op.
func (c *Client) postLoginReload(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.cfg.RequestTimeout)
	defer cancel()

	if !c.isCurrentGeneration(gen) {
		return
	}
	if err := c.LoadProfile(ctx, false); err != nil {
		c.log.Warn("post-login profile load failed", slog.String("err", err.Error()))
	}

	if !c.isCurrentGeneration(gen) {
		return
	}
	if err := c.RefreshResources(ctx, false); err != nil {
		c.log.Warn("post-login resource load failed", slog.String("err", err.Error()))
		return
	}

	if !c.isCurrentGeneration(gen) {
		return
	}
	snap := c.state.Snapshot()
	if snap.User == nil {
		return
	}
	for _, r := range c.resources.Owned(snap.User.ID) {
		if r.Status == wire.ResourceActive {
			_ = c.SelectResource(r.ID)
			return
		}
	}
}

// onUsageTick handles the dedicated usage channel, whose payload is the bare
// counter object rather than a response envelope.
func (c *Client) onUsageTick(ctx context.Context, evt bus.Event) {
	var p wire.UsagePayload
	if !c.decode(ctx, evt.Data, &p) {
		return
	}
	c.state.PatchCounters(p.ActiveSessionCount, p.MaxSessionCount)
}
