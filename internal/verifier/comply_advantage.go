package verifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
)

type ComplyAdvantageConfig struct {
	BaseURL string
	APIKey  string
}

// ComplyAdvantage screens profiles against sanctions, PEP and adverse
// media lists. It has no document verification.
type ComplyAdvantage struct {
	cfg  ComplyAdvantageConfig
	rest restClient
}

func NewComplyAdvantage(cfg ComplyAdvantageConfig, hc *http.Client) *ComplyAdvantage {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ComplyAdvantage{cfg: cfg, rest: newRESTClient(ProviderComplyAdvantage, hc)}
}

func (c *ComplyAdvantage) Name() string { return ProviderComplyAdvantage }

func (c *ComplyAdvantage) VerifyDocument(ctx context.Context, doc Document) (Result, error) {
	return Result{}, apperr.Provider(false, unsupported(ProviderComplyAdvantage, "document verification"), nil)
}

type complySearchResponse struct {
	Content struct {
		Data struct {
			ID          int64  `json:"id"`
			Ref         string `json:"ref"`
			TotalHits   int    `json:"total_hits"`
			MatchStatus string `json:"match_status"`
			RiskLevel   string `json:"risk_level"`
		} `json:"data"`
	} `json:"content"`
}

func (c *ComplyAdvantage) VerifyProfile(ctx context.Context, subject Subject) (Result, error) {
	filters := map[string]any{
		"types": []string{"sanction", "warning", "pep"},
	}
	if !subject.DateOfBirth.IsZero() {
		filters["birth_year"] = subject.DateOfBirth.Year()
	}
	if subject.Nationality != "" {
		filters["country_codes"] = []string{subject.Nationality}
	}
	body := map[string]any{
		"search_term": subject.FullName(),
		"client_ref":  subject.ProfileID.String(),
		"fuzziness":   0.6,
		"share_url":   0,
		"filters":     filters,
	}

	var resp complySearchResponse
	headers := map[string]string{"Authorization": "Token " + c.cfg.APIKey}
	if err := c.rest.postJSON(ctx, c.cfg.BaseURL+"/searches", headers, body, &resp); err != nil {
		return Result{}, err
	}

	data := resp.Content.Data
	res := Result{
		Success:   data.TotalHits == 0,
		Score:     100,
		Reference: data.Ref,
		Details: map[string]any{
			"provider":     ProviderComplyAdvantage,
			"search_id":    data.ID,
			"total_hits":   data.TotalHits,
			"match_status": data.MatchStatus,
			"risk_level":   data.RiskLevel,
		},
	}
	if data.TotalHits > 0 {
		res.Score = 0
		res.Reason = fmt.Sprintf("%d screening hit(s), match status %s", data.TotalHits, data.MatchStatus)
	}
	return res, nil
}
