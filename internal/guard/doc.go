/*
Package guard provides the exactly-once, deadline-bounded completion callback
used by every asynchronous pipeline stage.

# Contract

A Token wraps a downstream callback and a deadline:

  - the first Resolve delivers its value and disarms the timer
  - if nothing resolves before the deadline, the timeout value is delivered
  - any later Resolve is a no-op and returns false

The guard does not stop the guarded work. A handler that misses its deadline
keeps running; only its caller is released.

# States

	Pending --[Resolve]--> Resolved
	   |
	[deadline]
	   |
	   v
	TimedOut

# Usage

	res, state := guard.Await(5*time.Second,
		func(done func(Result)) { go handler(ctx, done) },
		func() Result { return Result{Err: guard.ErrTimeout} },
	)
*/
package guard
