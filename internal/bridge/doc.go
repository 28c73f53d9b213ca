// Package bridge is the reconciliation entry point called from the scene
// sandbox boundary.
//
// A Bridge owns one scene's state store and outgoing collector and talks to
// the host world through the HostWorld interface. Two operations cross the
// boundary:
//
//   - SendToHost(batch): decode, reconcile each message, forward accepted
//     messages to the host, finalize the tick, and answer with whatever the
//     host pushed into the outgoing collector since the previous call.
//   - GetState(): answer with a full snapshot of the store.
//
// # Ownership
//
// Responses are rented from the shared pool.Registry. The slice returned by
// either operation stays valid until the next call on the same Bridge, which
// releases it before renting again. At most one response lease is ever out
// per Bridge.
//
// # Failure containment
//
// Nothing escapes either operation. Host errors and panics while applying a
// message are reported to the diag.Sink and the batch continues. A malformed
// tail is reported and the valid prefix is still reconciled. A panic inside
// the bridge itself is reported and the call returns nil.
//
// # Concurrency
//
// SendToHost, GetState and Close must be serialized by the caller (the scene
// driver calls them once per tick). The collector returned by Outgoing may be
// written from any goroutine.
package bridge
