// Package pool provides the process-wide buffer arena shared by every scene's
// bridge.
//
// Byte buffers are grouped into power-of-two size classes. Each class has its
// own mutex and free list, so scenes renting different sizes never contend.
// Rent hands out a Lease; only Release puts the buffer back. A Lease carries
// the generation it was rented under, so releasing it twice, or releasing a
// copy after the buffer was rented again, is rejected with ErrStaleLease
// instead of corrupting another owner's data.
//
// A Registry is created once at host start and handed to each bridge. Close
// drops every free list at shutdown; leases still out are simply garbage
// collected when released afterwards.
package pool
