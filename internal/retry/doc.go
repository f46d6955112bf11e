// Package retry runs remote operations under a fixed retry schedule.
//
// A [Policy] names the maximum number of attempts and the wait before each
// retry. [FixedChain] is the schedule used against the workspace API: five
// attempts with waits of 5s, 10s, 30s and 60s. The waits are a fixed chain,
// not exponential backoff.
//
// [Do] calls an operation until its response status is accepted. Transport
// errors and rejected statuses are retried; every retry is logged. When the
// attempts run out the last failure is returned as a [RemoteServerError].
// Cancelling the context stops the loop and returns an error matching
// [ErrCancelled].
//
// # Usage
//
//	resp, err := retry.Do(ctx, retry.FixedChain(), logger, "list entity types",
//	    retry.StatusIn(http.StatusOK),
//	    func(ctx context.Context) (*Response, error) {
//	        return client.Get(ctx, url)
//	    })
package retry
