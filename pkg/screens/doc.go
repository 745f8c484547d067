// Package screens implements the vault bot's conversation: greeting,
// repository creation and unlocking, and record management. Every screen
// embeds *dialog.Base; Root builds the greeting screen every session starts
// from.
package screens
