// Package adapters holds the category services that application code calls instead of
// the gateway directly. Each service picks a provider id and endpoint, forwards the call,
// and returns the gateway's response unchanged.
package adapters

import (
	"context"
	"net/http"

	providergateway "github.com/opengovern/provider-gateway"
)

type response = providergateway.APIResponse[providergateway.RawJSON]

func post(ctx context.Context, r providergateway.Requester, provider, path string, body any) response {
	return r.Request(ctx, provider, path, providergateway.RequestOptions{
		Method: http.MethodPost,
		Body:   body,
	})
}

func unsupported() response {
	return providergateway.Failure[providergateway.RawJSON](providergateway.ErrProviderNotSupported)
}

func pick(provider, fallback string) string {
	if provider == "" {
		return fallback
	}
	return provider
}
