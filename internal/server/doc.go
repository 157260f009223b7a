// Package server implements the relay's HTTP and WebSocket surface and the
// hub that owns every connection's lifecycle.
//
// Each WebSocket connection runs a read pump that decodes frames into typed
// events and a write pump that drains the connection's send queue. All
// events flow into the Hub's single Run loop, which is the only place the
// address registry changes. The routing, signaling and presence logic lives
// in package relay; the hub feeds it and delivers what it produces.
package server
