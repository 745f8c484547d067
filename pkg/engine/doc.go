// Package engine is the composition root of the bot. It owns one session
// driver per actor, admits actors through the whitelist, routes every
// inbound event through a middleware chain, and expires sessions nobody
// uses. Frontends (websocket server, console) hand events to Engine and
// observe activity through an EventBus.
package engine
