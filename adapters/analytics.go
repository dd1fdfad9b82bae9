package adapters

import (
	"context"
	"net/http"
	"net/url"

	providergateway "github.com/opengovern/provider-gateway"
)

const (
	ProviderGoogleAnalytics = "google-analytics"
	ProviderMixpanel        = "mixpanel"
)

type AnalyticsService struct {
	gw providergateway.Requester
}

func NewAnalyticsService(gw providergateway.Requester) *AnalyticsService {
	return &AnalyticsService{gw: gw}
}

// GetAnalytics runs query against the provider. An empty provider means Google Analytics.
// Mixpanel exports are plain GETs; a url.Values or map[string]string query becomes the
// query string and anything else is ignored.
func (s *AnalyticsService) GetAnalytics(ctx context.Context, query any, provider string) response {
	switch pick(provider, ProviderGoogleAnalytics) {
	case ProviderGoogleAnalytics:
		return post(ctx, s.gw, ProviderGoogleAnalytics, "/reports:batchGet", query)
	case ProviderMixpanel:
		path := "/export"
		if qs := queryString(query); qs != "" {
			path += "?" + qs
		}
		return s.gw.Request(ctx, ProviderMixpanel, path, providergateway.RequestOptions{Method: http.MethodGet})
	default:
		return unsupported()
	}
}

func queryString(query any) string {
	switch q := query.(type) {
	case url.Values:
		return q.Encode()
	case map[string]string:
		values := url.Values{}
		for k, v := range q {
			values.Set(k, v)
		}
		return values.Encode()
	default:
		return ""
	}
}
