package verifier

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type OnfidoConfig struct {
	BaseURL  string
	APIToken string
	// PollInterval spaces check status polls; checks still running after
	// MaxPolls are reported as transient failures.
	PollInterval time.Duration
	MaxPolls     int
}

// Onfido runs one applicant, upload and check per verification.
type Onfido struct {
	cfg  OnfidoConfig
	rest restClient
}

func NewOnfido(cfg OnfidoConfig, hc *http.Client) *Onfido {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 5
	}
	return &Onfido{cfg: cfg, rest: newRESTClient(ProviderOnfido, hc)}
}

func (o *Onfido) Name() string { return ProviderOnfido }

func (o *Onfido) headers() map[string]string {
	return map[string]string{"Authorization": "Token token=" + o.cfg.APIToken}
}

type onfidoResource struct {
	ID string `json:"id"`
}

type onfidoCheck struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Result    string   `json:"result"`
	ReportIDs []string `json:"report_ids"`
	Href      string   `json:"href"`
}

func (o *Onfido) createApplicant(ctx context.Context, s Subject) (string, error) {
	body := map[string]any{
		"first_name": s.FirstName,
		"last_name":  s.LastName,
	}
	if !s.DateOfBirth.IsZero() {
		body["dob"] = s.DateOfBirth.Format("2006-01-02")
	}
	var applicant onfidoResource
	if err := o.rest.postJSON(ctx, o.cfg.BaseURL+"/applicants", o.headers(), body, &applicant); err != nil {
		return "", err
	}
	return applicant.ID, nil
}

func onfidoDocumentType(doc Document) (docType, side string) {
	side = "front"
	if doc.Type == models.DocumentIdentityBack {
		side = "back"
	}
	switch doc.Type {
	case models.DocumentIdentityFront, models.DocumentIdentityBack:
		switch doc.Subject.IDType {
		case models.DocPassport:
			return "passport", side
		case models.DocDriverLicense:
			return "driving_licence", side
		case models.DocResidencePermit:
			return "residence_permit", side
		}
		return "national_identity_card", side
	case models.DocumentProofOfAddress:
		return "utility_bill", side
	case models.DocumentBankStatement:
		return "bank_building_society_statement", side
	}
	return "unknown", side
}

func onfidoReport(t models.DocumentType) string {
	switch t {
	case models.DocumentSelfie:
		return "facial_similarity_photo"
	case models.DocumentProofOfAddress:
		return "proof_of_address"
	}
	return "document"
}

func (o *Onfido) upload(ctx context.Context, applicantID string, doc Document) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("applicant_id", applicantID)

	endpoint := "/live_photos"
	if doc.Type != models.DocumentSelfie {
		endpoint = "/documents"
		docType, side := onfidoDocumentType(doc)
		_ = w.WriteField("type", docType)
		_ = w.WriteField("side", side)
		if doc.Subject.IDCountry != "" {
			_ = w.WriteField("issuing_country", doc.Subject.IDCountry)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, doc.ID.String()))
	h.Set("Content-Type", doc.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", apperr.Provider(false, ProviderOnfido+": build upload", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return "", apperr.Provider(false, ProviderOnfido+": build upload", err)
	}
	if err := w.Close(); err != nil {
		return "", apperr.Provider(false, ProviderOnfido+": build upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+endpoint, &buf)
	if err != nil {
		return "", apperr.Provider(false, ProviderOnfido+": build upload", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Token token="+o.cfg.APIToken)

	var res onfidoResource
	if err := o.rest.do(req, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// runCheck creates a check and polls it until complete.
func (o *Onfido) runCheck(ctx context.Context, body map[string]any) (onfidoCheck, error) {
	var check onfidoCheck
	if err := o.rest.postJSON(ctx, o.cfg.BaseURL+"/checks", o.headers(), body, &check); err != nil {
		return check, err
	}
	for polls := 0; check.Status != "complete"; polls++ {
		if polls >= o.cfg.MaxPolls {
			return check, apperr.Provider(true, fmt.Sprintf("%s: check %s still %s", ProviderOnfido, check.ID, check.Status), nil)
		}
		select {
		case <-ctx.Done():
			return check, apperr.Timeout(ProviderOnfido+": deadline exceeded", ctx.Err())
		case <-time.After(o.cfg.PollInterval):
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/checks/"+check.ID, nil)
		if err != nil {
			return check, apperr.Provider(false, ProviderOnfido+": build request", err)
		}
		req.Header.Set("Authorization", "Token token="+o.cfg.APIToken)
		if err := o.rest.do(req, &check); err != nil {
			return check, err
		}
	}
	return check, nil
}

func (c onfidoCheck) result(report string) Result {
	res := Result{
		Success:   c.Result == "clear",
		Reference: c.ID,
		Details: map[string]any{
			"provider": ProviderOnfido,
			"report":   report,
			"result":   c.Result,
		},
	}
	switch c.Result {
	case "clear":
		res.Score = 100
	case "consider":
		res.Score = 40
		res.Reason = report + " requires consideration"
	default:
		res.Reason = report + " result " + c.Result
	}
	return res
}

func (o *Onfido) VerifyDocument(ctx context.Context, doc Document) (Result, error) {
	applicantID, err := o.createApplicant(ctx, doc.Subject)
	if err != nil {
		return Result{}, err
	}
	uploadID, err := o.upload(ctx, applicantID, doc)
	if err != nil {
		return Result{}, err
	}

	report := onfidoReport(doc.Type)
	body := map[string]any{
		"applicant_id": applicantID,
		"report_names": []string{report},
	}
	if doc.Type != models.DocumentSelfie {
		body["document_ids"] = []string{uploadID}
	}
	check, err := o.runCheck(ctx, body)
	if err != nil {
		return Result{}, err
	}
	res := check.result(report)
	res.ExtractedData = map[string]any{"applicant_id": applicantID, "upload_id": uploadID}
	return res, nil
}

func (o *Onfido) VerifyProfile(ctx context.Context, subject Subject) (Result, error) {
	applicantID, err := o.createApplicant(ctx, subject)
	if err != nil {
		return Result{}, err
	}
	check, err := o.runCheck(ctx, map[string]any{
		"applicant_id": applicantID,
		"report_names": []string{"watchlist_standard"},
	})
	if err != nil {
		return Result{}, err
	}
	return check.result("watchlist_standard"), nil
}
