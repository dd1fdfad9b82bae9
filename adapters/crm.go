package adapters

import (
	"context"
	"net/url"

	providergateway "github.com/opengovern/provider-gateway"
)

const (
	ProviderSalesforce = "salesforce"
	ProviderHubSpot    = "hubspot"
	ProviderWhatsApp   = "whatsapp-business"
)

type CRMService struct {
	gw      providergateway.Requester
	phoneID string
}

// NewCRMService builds the service. phoneID is the WhatsApp Business phone number id.
func NewCRMService(gw providergateway.Requester, phoneID string) *CRMService {
	return &CRMService{gw: gw, phoneID: phoneID}
}

// CreateContact creates contact in the CRM. An empty provider means HubSpot.
func (s *CRMService) CreateContact(ctx context.Context, contact any, provider string) response {
	switch pick(provider, ProviderHubSpot) {
	case ProviderSalesforce:
		return post(ctx, s.gw, ProviderSalesforce, "/sobjects/Contact", contact)
	case ProviderHubSpot:
		return post(ctx, s.gw, ProviderHubSpot, "/crm/v3/objects/contacts", contact)
	default:
		return unsupported()
	}
}

// SendWhatsApp sends message from the configured phone number.
func (s *CRMService) SendWhatsApp(ctx context.Context, message any) response {
	if s.phoneID == "" {
		return providergateway.Failure[providergateway.RawJSON](&providergateway.ConfigurationError{
			Provider: ProviderWhatsApp,
			Reason:   "phone id is not set",
		})
	}
	return post(ctx, s.gw, ProviderWhatsApp, "/"+url.PathEscape(s.phoneID)+"/messages", message)
}
