// Package errors classifies failures in the activity delivery pipeline.
//
// Delivery failures never reach the host page: the tracker logs them and
// re-queues the batch. The classification here decides how they are logged
// and lets transports and the collector agree on what a status code means.
//
// # Error Categories
//
//   - Transient: network errors, timeouts, 5xx responses. A retry may succeed.
//   - Resource: 429 and payload-size rejections. A later, smaller retry may succeed.
//   - Permanent: malformed batches, other 4xx responses.
//   - Internal: encoding bugs and anything unclassified.
//
// # Usage
//
//	err := errors.FromStatus(resp.StatusCode, "POST /events")
//	if errors.IsRetryable(err) {
//	    // requeue
//	}
//
//	wrapped := errors.Wrap(netErr, "sending batch")
//	if errors.Code(wrapped) == errors.ErrCodeNetworkErr { ... }
package errors
