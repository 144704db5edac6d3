package verifier

import (
	"fmt"
	"net/http"

	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
)

// New builds the provider named by KYC_PROVIDER or KYC_SCREENING_PROVIDER.
// "none" yields a nil Verifier.
func New(name string, cfg config.KYCConfig, hc *http.Client, clk clock.Clock) (Verifier, error) {
	switch name {
	case "", "none":
		return nil, nil
	case ProviderMock:
		return NewMock(cfg.MockScore), nil
	case ProviderSmileIdentity:
		if cfg.SmilePartnerID == "" || cfg.SmileAPIKey == "" {
			return nil, fmt.Errorf("smile_identity requires SMILE_IDENTITY_PARTNER_ID and SMILE_IDENTITY_API_KEY")
		}
		return NewSmileIdentity(SmileIdentityConfig{
			BaseURL:   cfg.SmileBaseURL,
			PartnerID: cfg.SmilePartnerID,
			APIKey:    cfg.SmileAPIKey,
		}, hc, clk), nil
	case ProviderOnfido:
		if cfg.OnfidoAPIToken == "" {
			return nil, fmt.Errorf("onfido requires ONFIDO_API_TOKEN")
		}
		return NewOnfido(OnfidoConfig{BaseURL: cfg.OnfidoBaseURL, APIToken: cfg.OnfidoAPIToken}, hc), nil
	case ProviderComplyAdvantage:
		if cfg.ComplyAdvantageAPIKey == "" {
			return nil, fmt.Errorf("comply_advantage requires COMPLY_ADVANTAGE_API_KEY")
		}
		return NewComplyAdvantage(ComplyAdvantageConfig{
			BaseURL: cfg.ComplyAdvantageBaseURL,
			APIKey:  cfg.ComplyAdvantageAPIKey,
		}, hc), nil
	}
	return nil, fmt.Errorf("unknown verification provider %q", name)
}

func PolicyFromConfig(cfg config.KYCConfig) RetryPolicy {
	return RetryPolicy{
		Attempts: cfg.RetryAttempts,
		Initial:  cfg.RetryInitial,
		Max:      cfg.RetryMax,
		Timeout:  cfg.ProviderTimeout,
	}
}
