package providergateway

import (
	"context"
	"encoding/json"
	"net/http"
)

// RawJSON is the payload type of untyped calls: the upstream body, undecoded.
type RawJSON = json.RawMessage

// HTTPDoer is the part of *http.Client the executor depends on.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallRecorder receives one record per gateway call that got as far as a request id.
// Errors are logged and otherwise ignored.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

// Requester is the call surface the typed service adapters depend on.
type Requester interface {
	Request(ctx context.Context, providerID, path string, opts RequestOptions) APIResponse[RawJSON]
}
