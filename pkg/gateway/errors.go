package gateway

import (
	"github.com/m-mizutani/goerr/v2"
)

// Failure kinds surfaced by the gateway. Stages switch on these tags to
// decide between retryable and permanent handling.
var (
	TagBlockedURL      = goerr.NewTag("blocked_url")
	TagDNSFailure      = goerr.NewTag("dns_failure")
	TagTransportError  = goerr.NewTag("transport_error")
	TagStatus4xx       = goerr.NewTag("status_4xx")
	TagStatus5xx       = goerr.NewTag("status_5xx")
	TagTimeout         = goerr.NewTag("timeout")
	TagOversize        = goerr.NewTag("oversize")
	TagContentMismatch = goerr.NewTag("content_mismatch")
)

var tagNames = []struct {
	has  func(error) bool
	name string
}{
	{func(err error) bool { return goerr.HasTag(err, TagBlockedURL) }, "blocked_url"},
	{func(err error) bool { return goerr.HasTag(err, TagDNSFailure) }, "dns_failure"},
	{func(err error) bool { return goerr.HasTag(err, TagTransportError) }, "transport_error"},
	{func(err error) bool { return goerr.HasTag(err, TagStatus4xx) }, "status_4xx"},
	{func(err error) bool { return goerr.HasTag(err, TagStatus5xx) }, "status_5xx"},
	{func(err error) bool { return goerr.HasTag(err, TagTimeout) }, "timeout"},
	{func(err error) bool { return goerr.HasTag(err, TagOversize) }, "oversize"},
	{func(err error) bool { return goerr.HasTag(err, TagContentMismatch) }, "content_mismatch"},
}

// Kind returns the failure kind name of a gateway error, or empty when
// the error carries no gateway tag.
func Kind(err error) string {
	for _, tn := range tagNames {
		if tn.has(err) {
			return tn.name
		}
	}
	return ""
}

// IsPermanent reports whether the failure should not be retried for the
// same document: blocked URLs, content mismatches and plain 4xx responses
// will not get better by waiting.
func IsPermanent(err error) bool {
	return goerr.HasTag(err, TagBlockedURL) ||
		goerr.HasTag(err, TagContentMismatch) ||
		(goerr.HasTag(err, TagStatus4xx) && !retryable(err))
}
