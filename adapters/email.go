package adapters

import (
	"context"

	providergateway "github.com/opengovern/provider-gateway"
)

const (
	ProviderSendGrid  = "sendgrid"
	ProviderMailchimp = "mailchimp"
)

type EmailService struct {
	gw providergateway.Requester
}

func NewEmailService(gw providergateway.Requester) *EmailService {
	return &EmailService{gw: gw}
}

// SendCampaign posts campaign as is. An empty provider means SendGrid.
func (s *EmailService) SendCampaign(ctx context.Context, campaign any, provider string) response {
	switch pick(provider, ProviderSendGrid) {
	case ProviderSendGrid:
		return post(ctx, s.gw, ProviderSendGrid, "/mail/send", campaign)
	case ProviderMailchimp:
		return post(ctx, s.gw, ProviderMailchimp, "/campaigns", campaign)
	default:
		return unsupported()
	}
}
