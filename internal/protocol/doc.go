// Package protocol defines the relay's wire format: every WebSocket frame is
// a JSON object {"event": name, "data": payload}. Inbound frames decode into
// a closed set of typed events with required-field validation; anything that
// fails validation is reported as a *Error naming the offending event before
// it reaches routing logic.
package protocol
