package adapters

import (
	"context"

	providergateway "github.com/opengovern/provider-gateway"
)

const (
	ProviderStripe      = "stripe"
	ProviderPayPal      = "paypal"
	ProviderMercadoPago = "mercadopago"
)

type PaymentService struct {
	gw providergateway.Requester
}

func NewPaymentService(gw providergateway.Requester) *PaymentService {
	return &PaymentService{gw: gw}
}

// CreatePayment creates a payment intent. An empty provider means Stripe.
func (s *PaymentService) CreatePayment(ctx context.Context, payment any, provider string) response {
	switch pick(provider, ProviderStripe) {
	case ProviderStripe:
		return post(ctx, s.gw, ProviderStripe, "/payment_intents", payment)
	case ProviderPayPal:
		return post(ctx, s.gw, ProviderPayPal, "/payments/payment", payment)
	case ProviderMercadoPago:
		return post(ctx, s.gw, ProviderMercadoPago, "/payments", payment)
	default:
		return unsupported()
	}
}
