package providergateway

import (
	"fmt"
	"time"
)

// DefaultProviders returns the built-in provider table. Keys are left empty; they are
// supplied through configuration or UpdateAPIKey.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		// AI
		{
			ID:          "openai",
			DisplayName: "OpenAI GPT-4",
			BaseURL:     "https://api.openai.com/v1",
			Auth:        BearerToken{},
			RateLimit:   60,
			Timeout:     30 * time.Second,
			Category:    CategoryAI,
		},
		{
			ID:             "anthropic",
			DisplayName:    "Anthropic Claude",
			BaseURL:        "https://api.anthropic.com/v1",
			Auth:           HeaderKey{Header: "x-api-key"},
			RateLimit:      50,
			Timeout:        30 * time.Second,
			DefaultHeaders: map[string]string{"anthropic-version": "2023-06-01"},
			Category:       CategoryAI,
		},
		{
			ID:          "google-ai",
			DisplayName: "Google Gemini",
			BaseURL:     "https://generativelanguage.googleapis.com/v1",
			Auth:        HeaderKey{Header: "x-goog-api-key"},
			RateLimit:   60,
			Timeout:     30 * time.Second,
			Category:    CategoryAI,
		},

		// Email
		{
			ID:          "sendgrid",
			DisplayName: "SendGrid",
			BaseURL:     "https://api.sendgrid.com/v3",
			Auth:        BearerToken{},
			RateLimit:   100,
			Timeout:     15 * time.Second,
			Category:    CategoryEmail,
		},
		{
			ID:          "mailchimp",
			DisplayName: "Mailchimp",
			BaseURL:     "https://us1.api.mailchimp.com/3.0",
			Auth:        BasicAuth{Username: "anystring"},
			RateLimit:   120,
			Timeout:     15 * time.Second,
			Category:    CategoryEmail,
		},

		// CRM and messaging
		{
			ID:          "salesforce",
			DisplayName: "Salesforce",
			BaseURL:     "https://login.salesforce.com",
			Auth: &OAuth2ClientCredentials{
				TokenURL: "https://login.salesforce.com/services/oauth2/token",
			},
			RateLimit: 100,
			Timeout:   20 * time.Second,
			Category:  CategoryCRM,
		},
		{
			ID:          "hubspot",
			DisplayName: "HubSpot",
			BaseURL:     "https://api.hubapi.com",
			Auth:        BearerToken{},
			RateLimit:   120,
			Timeout:     15 * time.Second,
			Category:    CategoryCRM,
		},
		{
			ID:          "twilio",
			DisplayName: "Twilio",
			BaseURL:     "https://api.twilio.com/2010-04-01",
			Auth:        BasicAuth{},
			RateLimit:   60,
			Timeout:     15 * time.Second,
			Category:    CategoryCRM,
		},
		{
			ID:          "whatsapp-business",
			DisplayName: "WhatsApp Business",
			BaseURL:     "https://graph.facebook.com/v18.0",
			Auth:        BearerToken{},
			RateLimit:   80,
			Timeout:     15 * time.Second,
			Category:    CategoryCRM,
		},

		// Finance
		{
			ID:          "stripe",
			DisplayName: "Stripe",
			BaseURL:     "https://api.stripe.com/v1",
			Auth:        BearerToken{},
			RateLimit:   100,
			Timeout:     15 * time.Second,
			Category:    CategoryFinance,
		},
		{
			ID:          "paypal",
			DisplayName: "PayPal",
			BaseURL:     "https://api.paypal.com/v1",
			Auth: &OAuth2ClientCredentials{
				TokenURL: "https://api.paypal.com/v1/oauth2/token",
			},
			RateLimit: 60,
			Timeout:   15 * time.Second,
			Category:  CategoryFinance,
		},
		{
			ID:          "mercadopago",
			DisplayName: "Mercado Pago",
			BaseURL:     "https://api.mercadopago.com/v1",
			Auth:        BearerToken{},
			RateLimit:   80,
			Timeout:     15 * time.Second,
			Category:    CategoryFinance,
		},

		// Automation
		{
			ID:          "zapier",
			DisplayName: "Zapier",
			BaseURL:     "https://zapier.com/api/v1",
			Auth:        HeaderKey{Header: "X-API-Key"},
			RateLimit:   60,
			Timeout:     20 * time.Second,
			Category:    CategoryAutomation,
		},
		{
			ID:          "make",
			DisplayName: "Make (Integromat)",
			BaseURL:     "https://www.make.com/api/v2",
			Auth:        BearerToken{},
			RateLimit:   80,
			Timeout:     20 * time.Second,
			Category:    CategoryAutomation,
		},

		// Analytics
		{
			ID:          "google-analytics",
			DisplayName: "Google Analytics",
			BaseURL:     "https://analyticsreporting.googleapis.com/v4",
			Auth:        BearerToken{},
			RateLimit:   100,
			Timeout:     15 * time.Second,
			Category:    CategoryAnalytics,
		},
		{
			ID:          "mixpanel",
			DisplayName: "Mixpanel",
			BaseURL:     "https://mixpanel.com/api/2.0",
			Auth:        BasicAuth{},
			RateLimit:   60,
			Timeout:     15 * time.Second,
			Category:    CategoryAnalytics,
		},
	}
}

// RegisterDefaults registers every provider of DefaultProviders with g.
func RegisterDefaults(g *Gateway) error {
	for _, cfg := range DefaultProviders() {
		if err := g.RegisterProvider(cfg.ID, cfg); err != nil {
			return fmt.Errorf("registering %s: %w", cfg.ID, err)
		}
	}
	return nil
}
