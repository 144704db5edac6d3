package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

// Smile Identity result codes that count as a pass.
var smileApproved = map[string]bool{
	"0810": true, // document verified
	"1012": true, // id number verified
	"1020": true, // exact match
	"0820": true, // selfie matched
}

type SmileIdentityConfig struct {
	BaseURL   string
	PartnerID string
	APIKey    string
}

type SmileIdentity struct {
	cfg   SmileIdentityConfig
	rest  restClient
	clock clock.Clock
}

func NewSmileIdentity(cfg SmileIdentityConfig, hc *http.Client, clk clock.Clock) *SmileIdentity {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SmileIdentity{cfg: cfg, rest: newRESTClient(ProviderSmileIdentity, hc), clock: clk}
}

func (s *SmileIdentity) Name() string { return ProviderSmileIdentity }

// signature is base64(HMAC-SHA256(api_key, timestamp+partner_id+"sid_request")).
func (s *SmileIdentity) signature(timestamp string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.APIKey))
	mac.Write([]byte(timestamp + s.cfg.PartnerID + "sid_request"))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type smileResponse struct {
	SmileJobID      string            `json:"SmileJobID"`
	ResultCode      string            `json:"ResultCode"`
	ResultText      string            `json:"ResultText"`
	ConfidenceValue string            `json:"ConfidenceValue"`
	Actions         map[string]string `json:"Actions"`
	FullData        map[string]any    `json:"FullData"`
}

func (r smileResponse) result() Result {
	score := 0
	if v, err := strconv.ParseFloat(r.ConfidenceValue, 64); err == nil {
		score = clampScore(int(v))
	}
	res := Result{
		Success:       smileApproved[r.ResultCode],
		Score:         score,
		Reference:     r.SmileJobID,
		ExtractedData: r.FullData,
		Details: map[string]any{
			"provider":    ProviderSmileIdentity,
			"result_code": r.ResultCode,
			"result_text": r.ResultText,
		},
	}
	if len(r.Actions) > 0 {
		actions := make(map[string]any, len(r.Actions))
		for k, v := range r.Actions {
			actions[k] = v
		}
		res.Details["actions"] = actions
	}
	if !res.Success {
		res.Reason = r.ResultText
	}
	return res
}

func (s *SmileIdentity) base(jobType int, subject Subject) map[string]any {
	timestamp := s.clock.Now().Format(time.RFC3339)
	return map[string]any{
		"partner_id": s.cfg.PartnerID,
		"timestamp":  timestamp,
		"signature":  s.signature(timestamp),
		"source_sdk": "rest_api",
		"partner_params": map[string]any{
			"job_id":   subject.ProfileID.String(),
			"user_id":  subject.ProfileID.String(),
			"job_type": jobType,
		},
		"country": subject.IDCountry,
		"id_type": idTypeCode(subject.IDType),
	}
}

func (s *SmileIdentity) VerifyDocument(ctx context.Context, doc Document) (Result, error) {
	// job type 6 is document verification, 2 is selfie authentication
	jobType := 6
	imageType := 1
	if doc.Type == models.DocumentSelfie {
		jobType = 2
		imageType = 0
	}
	if doc.Type == models.DocumentIdentityBack {
		imageType = 5
	}
	payload := s.base(jobType, doc.Subject)
	payload["images"] = []map[string]any{{
		"image_type_id": imageType,
		"image":         base64.StdEncoding.EncodeToString(doc.Content),
	}}

	var resp smileResponse
	if err := s.rest.postJSON(ctx, s.cfg.BaseURL+"/v1/upload", nil, payload, &resp); err != nil {
		return Result{}, err
	}
	if resp.ResultCode == "" {
		return Result{}, apperr.Provider(false, ProviderSmileIdentity+": empty result code", nil)
	}
	return resp.result(), nil
}

func (s *SmileIdentity) VerifyProfile(ctx context.Context, subject Subject) (Result, error) {
	payload := s.base(5, subject)
	payload["id_number"] = subject.IDNumber
	payload["first_name"] = subject.FirstName
	payload["middle_name"] = subject.MiddleName
	payload["last_name"] = subject.LastName
	if !subject.DateOfBirth.IsZero() {
		payload["dob"] = subject.DateOfBirth.Format("2006-01-02")
	}

	var resp smileResponse
	if err := s.rest.postJSON(ctx, s.cfg.BaseURL+"/v1/id_verification", nil, payload, &resp); err != nil {
		return Result{}, err
	}
	res := resp.result()
	if res.Success && res.Score == 0 {
		res.Score = 100
	}
	return res, nil
}
