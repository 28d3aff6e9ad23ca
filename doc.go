// Package restbucket coordinates outgoing requests to a rate limited REST
// API (Discord's, or one that reports limits the same way). It queues every
// request on the bucket it belongs to and releases it only when the quota
// last reported by the server allows, so callers rarely see a 429 and never
// have to handle one.
//
// # Key Concepts
//
//   - [Endpoint] describes a class of routes. Endpoints that share the
//     account-wide quota are marked Global; others can split their quota by a
//     major URL parameter such as the channel id.
//   - [BucketKey] identifies a bucket. Requests with the same key run one at
//     a time, in submission order. Different keys never block each other.
//   - [Limiter] owns the buckets of one credential and runs their queues.
//     A 429 response is retried in place after the server's retry_after;
//     any other response is handed back to the caller.
//   - [GlobalState] holds what all buckets of a credential share: the
//     account-wide reset and the [ClockOffset] that maps local time to server
//     time. Share it between limiters, and back it with a [store.Store], to
//     coordinate shards or processes.
//
// # Quick Start
//
//	limiter := restbucket.New("Bot " + token)
//	defer limiter.Close()
//
//	// Wrap an http.Client to schedule every request it makes.
//	client := &http.Client{
//		Transport: limiter.Transport(nil, nil),
//	}
//
// Requests can also be submitted directly with [Limiter.Do] and an
// [Executor] that performs the call.
//
// See the [Limiter] documentation for the full API.
package restbucket
