package dispatch

import "errors"

// maxRetryCount caps re-enqueues (spec §4.3.1 step 5, §8 invariant 4):
// retry_count strictly increases and republishing stops at >=3.
const maxRetryCount = 3

// ErrRetryExhausted is returned by the dispatchers' handleSendFailure when
// a failed send would raise the job's retry_count to maxRetryCount; the job
// is then finalized as failed instead of being republished.
var ErrRetryExhausted = errors.New("dispatch: retry budget exhausted")

// ErrTemplateNotFound surfaces a missing template id (§4.3.1 step 2).
var ErrTemplateNotFound = errors.New("dispatch: template not found")
