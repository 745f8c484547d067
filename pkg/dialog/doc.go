// Package dialog is the per-actor conversation core. A Context interprets
// inbound events for one screen of a conversation and may own at most one
// live sub-context, forming a chain from the root down to the deepest active
// screen. Events always reach the deepest live context; when a sub-context
// finishes its owner is told exactly once and may continue or start another.
//
// Concrete screens embed *Base and register their handlers, lifecycle hooks
// and sub-context result hook on it. Base implements Context.
package dialog
