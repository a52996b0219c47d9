/*
Package scheduler provides the cooperative event-loop primitives the rest
of the update client runs on: a Loop that processes posted tasks one at a
time, a cancellable Timer for delayed callbacks, and a SignalHandler for
POSIX signal dispatch with automatic re-arming.

The original daemon (see SPEC_FULL.md §4.G) uses a single-threaded
reactor: run()/stop(), post() for deferred one-shot work, async_wait() for
timers, and a signal handler, all serialized on one OS thread so no
component needs locks. This port keeps that serialization guarantee but
implements it with a goroutine draining a channel of tasks rather than a
literal single thread -- any goroutine may call Loop.Post, and the posted
function always runs on the Loop's own goroutine, in submission order,
never concurrently with another posted function.

The FIFO streaming sub-protocol's "open for write without blocking"
requirement (§4.D) is handled directly inside pkg/runner instead of through
a generic async-opener primitive here: pkg/runner's non-blocking-open retry
loop already produces a channel-based completion event, which is the same
shape this package's Timer produces, without needing a second abstraction
for one caller.
*/
package scheduler
