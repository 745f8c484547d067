// Package secstore keeps each actor's secrets in an encrypted repository.
// A repository is unlocked with the actor's password, edited in memory, and
// written back with Save. Unsaved edits can be discarded with Cancel.
package secstore
