package server

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

// Reasons reported in loginError and error events.
const (
	reasonInvalidSignature   = "invalid signature"
	reasonSignatureRequired  = "signature required"
	reasonUnsupportedType    = "unsupported wallet type"
	reasonMalformedSignature = "malformed signature"
	reasonMalformedAddress   = "malformed address"
	reasonChallengeMismatch  = "unexpected login message"
	reasonStaleChallenge     = "login message expired"
	reasonVerifyTimeout      = "signature verification timed out"
	reasonVerifyFailed       = "signature verification failed"
	reasonUnauthenticated    = "unauthenticated"
	reasonSenderMismatch     = "sender does not match bound address"
	reasonTooManyPending     = "too many events while login is pending"
	reasonRateLimited        = "rate limit exceeded"
	reasonInternal           = "internal error"
)

// handleInbound runs one client event, or holds it back while the client
// has a verification in flight so the client's events keep their order.
func (h *Hub) handleInbound(ev inboundEvent) {
	c := ev.client
	if c == nil || !h.isOpen(c) {
		return
	}

	if c.verifying {
		if len(c.deferred) >= h.cfg.PendingEventLimit {
			h.sendError(c, eventName(ev), reasonTooManyPending)
			return
		}
		c.deferred = append(c.deferred, ev)
		h.metrics.Inc(metrics.EventsDeferred)
		return
	}

	h.dispatch(ev)
}

func (h *Hub) isOpen(c *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[c] && !c.closed
}

func eventName(ev inboundEvent) string {
	if ev.event != nil {
		return ev.event.EventName()
	}
	var perr *protocol.Error
	if errors.As(ev.err, &perr) {
		return perr.Event
	}
	return ""
}

func (h *Hub) dispatch(ev inboundEvent) {
	c := ev.client

	if ev.err != nil {
		h.metrics.Inc(metrics.ProtocolErrors)
		var perr *protocol.Error
		if errors.As(ev.err, &perr) {
			h.sendError(c, perr.Event, perr.Reason)
			return
		}
		h.sendError(c, "", ev.err.Error())
		return
	}

	switch e := ev.event.(type) {
	case protocol.GuestLogin:
		h.bind(c, e.ID, relay.KindGuest, true)

	case protocol.WalletLogin:
		kind := relay.ParseIdentityKind(e.Type)
		if !isWalletKind(kind) {
			h.loginFailed(c, e.EventName(), reasonUnsupportedType)
			return
		}
		h.startVerification(c, e.EventName(), kind, e.Address, e.Message, e.Signature)

	case protocol.Login:
		kind := relay.ParseIdentityKind(e.Type)
		if e.Signature == "" {
			if h.cfg.RequireSignedRelogin {
				h.loginFailed(c, e.EventName(), reasonSignatureRequired)
				return
			}
			h.bind(c, e.Address, kind, true)
			return
		}
		if !isWalletKind(kind) {
			h.loginFailed(c, e.EventName(), reasonUnsupportedType)
			return
		}
		h.startVerification(c, e.EventName(), kind, e.Address, e.Message, e.Signature)

	case protocol.Register:
		if h.cfg.RequireSignedRelogin {
			h.loginFailed(c, e.EventName(), reasonSignatureRequired)
			return
		}
		h.bind(c, e.Address, relay.KindWalletGeneric, false)

	case protocol.SendMessage:
		outcome, err := h.router.Route(c.id, e.To, e.Text)
		if err != nil {
			h.reject(c, e.EventName(), err)
			return
		}
		if outcome.RecipientOffline {
			h.metrics.Inc(metrics.MessagesOffline)
			return
		}
		h.metrics.Inc(metrics.MessagesRouted)
		h.metrics.Add(metrics.MessagesDelivered, uint64(outcome.Delivered))

	case protocol.Signal:
		n, err := h.signals.Forward(c.id, e)
		if err != nil {
			h.reject(c, e.EventName(), err)
			return
		}
		if n == 0 {
			h.metrics.Inc(metrics.SignalsDropped)
			return
		}
		h.metrics.Inc(metrics.SignalsRelayed)

	default:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"conn_id":  c.id,
		}).Warnf("Unhandled event type %T", ev.event)
	}
}

func isWalletKind(kind relay.IdentityKind) bool {
	return kind == relay.KindEVM || kind == relay.KindSubstrate
}

// bind applies a successful login. Presence is republished after every bind,
// including a re-bind to the same address.
func (h *Hub) bind(c *Client, addr string, kind relay.IdentityKind, announce bool) {
	b, previous := h.registry.Bind(c.id, addr, kind)
	h.metrics.Inc(metrics.LoginSucceeded)

	fields := logrus.Fields{
		"conn_id": c.id,
		"address": b.Address,
		"kind":    kind,
	}
	if previous != "" && previous != b.Address {
		fields["previous"] = previous
	}
	logrus.WithFields(fields).Info("Connection bound")

	if announce {
		h.sendEvent(c, protocol.LoginSuccess{
			Address:     b.Address,
			Type:        string(kind),
			ConnectedAt: b.BoundAt.UTC(),
		})
	}
	h.publishPresence()
}

func (h *Hub) publishPresence() {
	n, err := h.presence.Publish()
	if err != nil {
		logrus.WithField("function", "publishPresence").WithError(err).Error("Failed to publish presence")
		return
	}
	h.metrics.Inc(metrics.PresenceBroadcasts)
	logrus.WithField("recipients", n).Debug("Presence published")
}

// startVerification checks the login challenge in the loop and verifies the
// signature in its own goroutine. The client's later events wait until the
// result comes back through h.results.
func (h *Hub) startVerification(c *Client, event string, kind relay.IdentityKind, addr, message, signature string) {
	resolved, err := h.challenge.Resolve(message)
	if err != nil {
		h.loginFailed(c, event, loginFailureReason(err))
		return
	}
	if h.verifier == nil {
		h.loginFailed(c, event, reasonUnsupportedType)
		return
	}

	login := pendingLogin{
		event: event,
		kind:  kind,
		request: wallet.Request{
			Scheme:    wallet.Scheme(kind),
			Address:   addr,
			Message:   resolved,
			Signature: signature,
		},
	}

	c.verifying = true
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(h.ctx, h.cfg.VerifyTimeout)
		defer cancel()

		ok, err := h.verifier.Verify(ctx, login.request)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}

		select {
		case h.results <- verifyResult{client: c, login: login, ok: ok, err: err}:
		case <-h.ctx.Done():
		}
	}()
}

// handleVerifyResult applies a verification outcome and replays the events
// the client sent meanwhile. Results for closed connections are discarded.
func (h *Hub) handleVerifyResult(res verifyResult) {
	c := res.client
	c.verifying = false

	if !h.isOpen(c) {
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"address": res.login.request.Address,
		}).Debug("Discarding verification result for closed connection")
		c.deferred = nil
		return
	}

	switch {
	case res.err != nil:
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"address": res.login.request.Address,
			"scheme":  res.login.request.Scheme,
		}).WithError(res.err).Info("Signature verification failed")
		h.loginFailed(c, res.login.event, loginFailureReason(res.err))
	case !res.ok:
		h.loginFailed(c, res.login.event, reasonInvalidSignature)
	default:
		h.bind(c, res.login.request.Address, res.login.kind, true)
	}

	h.replayDeferred(c)
}

func (h *Hub) replayDeferred(c *Client) {
	pending := c.deferred
	c.deferred = nil

	for i, ev := range pending {
		if c.verifying {
			c.deferred = append(c.deferred, pending[i:]...)
			return
		}
		if !h.isOpen(c) {
			return
		}
		h.dispatch(ev)
	}
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, wallet.ErrChallengeMismatch):
		return reasonChallengeMismatch
	case errors.Is(err, wallet.ErrStaleChallenge):
		return reasonStaleChallenge
	case errors.Is(err, wallet.ErrMalformedSignature):
		return reasonMalformedSignature
	case errors.Is(err, wallet.ErrMalformedAddress):
		return reasonMalformedAddress
	case errors.Is(err, wallet.ErrUnsupportedScheme):
		return reasonUnsupportedType
	case errors.Is(err, context.DeadlineExceeded):
		return reasonVerifyTimeout
	}
	return reasonVerifyFailed
}

func (h *Hub) loginFailed(c *Client, event, reason string) {
	h.metrics.Inc(metrics.LoginFailed)
	logrus.WithFields(logrus.Fields{
		"conn_id": c.id,
		"event":   event,
		"reason":  reason,
	}).Info("Login rejected")
	h.sendEvent(c, protocol.LoginError{Reason: reason})
}

// reject reports a failed routing or signaling operation to its sender.
func (h *Hub) reject(c *Client, event string, err error) {
	reason := reasonInternal
	switch {
	case errors.Is(err, relay.ErrUnauthenticated):
		reason = reasonUnauthenticated
		h.metrics.Inc(metrics.Unauthenticated)
	case errors.Is(err, relay.ErrSenderMismatch):
		reason = reasonSenderMismatch
		h.metrics.Inc(metrics.ProtocolErrors)
	default:
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"event":   event,
		}).WithError(err).Error("Operation failed")
	}
	h.sendError(c, event, reason)
}

func (h *Hub) sendError(c *Client, event, reason string) {
	h.sendEvent(c, protocol.ErrorEvent{Event: event, Reason: reason})
}

func (h *Hub) sendEvent(c *Client, out protocol.Outbound) {
	frame, err := protocol.Encode(out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"event":   out.EventName(),
		}).WithError(err).Error("Failed to encode event")
		return
	}
	h.deliver(c, frame)
}
