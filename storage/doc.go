// Package storage wraps native cloud-storage instances and transfers.
//
// # Instances
//
// GetInstance returns the singleton wrapper for an app+bucket-URL pair.
// Wrappers are backed by the app's instance manager: repeated calls with
// the same URL share one native object, and the native object is destroyed
// only when the last wrapper releases it. Disposing the app disposes its
// storage instances first.
//
// # Transfers
//
// Reference.GetBytes and Reference.PutBytes start asynchronous native
// transfers and return a Transfer: a task for the result plus cooperative
// Pause, Resume and Cancel through the native transfer controller.
// Cancellation is a flag the native side observes; it never force-unblocks
// a waiter. BindContext adapts that contract to context.Context.
package storage
