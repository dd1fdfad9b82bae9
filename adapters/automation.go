package adapters

import (
	"context"

	providergateway "github.com/opengovern/provider-gateway"
)

const (
	ProviderZapier = "zapier"
	ProviderMake   = "make"
)

type AutomationService struct {
	gw providergateway.Requester
}

func NewAutomationService(gw providergateway.Requester) *AutomationService {
	return &AutomationService{gw: gw}
}

// CreateWorkflow creates a zap or scenario. An empty provider means Zapier.
func (s *AutomationService) CreateWorkflow(ctx context.Context, workflow any, provider string) response {
	switch pick(provider, ProviderZapier) {
	case ProviderZapier:
		return post(ctx, s.gw, ProviderZapier, "/zaps", workflow)
	case ProviderMake:
		return post(ctx, s.gw, ProviderMake, "/scenarios", workflow)
	default:
		return unsupported()
	}
}
