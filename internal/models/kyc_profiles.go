package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type KYCStatus string

const (
	KYCPending     KYCStatus = "pending"
	KYCUnderReview KYCStatus = "under_review"
	KYCApproved    KYCStatus = "approved"
	KYCRejected    KYCStatus = "rejected"
	KYCExpired     KYCStatus = "expired"
	KYCSuspended   KYCStatus = "suspended"
)

// Frozen profiles only change through admin-mediated transitions.
func (s KYCStatus) Frozen() bool {
	return s == KYCApproved || s == KYCUnderReview
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskVeryHigh:
		return true
	}
	return false
}

type IdentityDocType string

const (
	DocPassport        IdentityDocType = "passport"
	DocNationalID      IdentityDocType = "national_id"
	DocDriverLicense   IdentityDocType = "driver_license"
	DocResidencePermit IdentityDocType = "residence_permit"
)

func (d IdentityDocType) IsValid() bool {
	switch d {
	case DocPassport, DocNationalID, DocDriverLicense, DocResidencePermit:
		return true
	}
	return false
}

type SourceOfFunds string

const (
	FundsSalary      SourceOfFunds = "salary"
	FundsBusiness    SourceOfFunds = "business"
	FundsInvestment  SourceOfFunds = "investment"
	FundsInheritance SourceOfFunds = "inheritance"
	FundsGift        SourceOfFunds = "gift"
	FundsOther       SourceOfFunds = "other"
)

func (s SourceOfFunds) IsValid() bool {
	switch s {
	case FundsSalary, FundsBusiness, FundsInvestment, FundsInheritance, FundsGift, FundsOther:
		return true
	}
	return false
}

// SubStatus tracks one verification channel of a profile.
type SubStatus string

const (
	SubNotSubmitted SubStatus = "not_submitted"
	SubSubmitted    SubStatus = "submitted"
	SubVerified     SubStatus = "verified"
	SubRejected     SubStatus = "rejected"
)

type KYCProfile struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"user_id"`

	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	MiddleName   *string   `db:"middle_name" json:"middle_name,omitempty"`
	DateOfBirth  time.Time `db:"date_of_birth" json:"date_of_birth"`
	PlaceOfBirth string    `db:"place_of_birth" json:"place_of_birth"`
	Nationality  string    `db:"nationality" json:"nationality"`
	Gender       string    `db:"gender" json:"gender"`

	AddressLine1  string  `db:"address_line_1" json:"address_line_1"`
	AddressLine2  *string `db:"address_line_2" json:"address_line_2,omitempty"`
	City          string  `db:"city" json:"city"`
	StateProvince string  `db:"state_province" json:"state_province"`
	PostalCode    string  `db:"postal_code" json:"postal_code"`
	Country       string  `db:"country" json:"country"`

	IdentityDocType           IdentityDocType `db:"identity_doc_type" json:"identity_doc_type"`
	IdentityDocNumber         string          `db:"identity_doc_number" json:"identity_doc_number"`
	IdentityDocExpiry         *time.Time      `db:"identity_doc_expiry" json:"identity_doc_expiry,omitempty"`
	IdentityDocIssuingCountry string          `db:"identity_doc_issuing_country" json:"identity_doc_issuing_country"`

	Occupation    string        `db:"occupation" json:"occupation"`
	EmployerName  *string       `db:"employer_name" json:"employer_name,omitempty"`
	MonthlyIncome *float64      `db:"monthly_income" json:"monthly_income,omitempty"`
	SourceOfFunds SourceOfFunds `db:"source_of_funds" json:"source_of_funds"`

	KYCStatus KYCStatus `db:"kyc_status" json:"kyc_status"`
	RiskLevel RiskLevel `db:"risk_level" json:"risk_level"`

	IdentityVerificationStatus SubStatus `db:"identity_verification_status" json:"identity_verification_status"`
	AddressVerificationStatus  SubStatus `db:"address_verification_status" json:"address_verification_status"`
	SelfieVerificationStatus   SubStatus `db:"selfie_verification_status" json:"selfie_verification_status"`
	ScreeningStatus            SubStatus `db:"screening_status" json:"screening_status"`

	VerificationProvider  string `db:"verification_provider" json:"verification_provider,omitempty"`
	VerificationReference string `db:"verification_reference" json:"verification_reference,omitempty"`
	VerificationScore     *int   `db:"verification_score" json:"verification_score,omitempty"`

	SubmittedAt      *time.Time     `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt       *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ApprovedAt       *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt       *time.Time     `db:"rejected_at" json:"rejected_at,omitempty"`
	ExpiresAt        *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	RejectionReason  *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	RejectionDetails map[string]any `db:"rejection_details" json:"rejection_details,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// personalFields are the mandatory data fields; their order is the order
// missing fields are reported in.
func (p *KYCProfile) personalFields() []struct {
	name   string
	filled bool
} {
	return []struct {
		name   string
		filled bool
	}{
		{"first_name", p.FirstName != ""},
		{"last_name", p.LastName != ""},
		{"date_of_birth", !p.DateOfBirth.IsZero()},
		{"place_of_birth", p.PlaceOfBirth != ""},
		{"nationality", p.Nationality != ""},
		{"gender", p.Gender != ""},
		{"address_line_1", p.AddressLine1 != ""},
		{"city", p.City != ""},
		{"state_province", p.StateProvince != ""},
		{"postal_code", p.PostalCode != ""},
		{"country", p.Country != ""},
		{"identity_doc_type", p.IdentityDocType != ""},
		{"identity_doc_number", p.IdentityDocNumber != ""},
		{"identity_doc_issuing_country", p.IdentityDocIssuingCountry != ""},
		{"occupation", p.Occupation != ""},
		{"source_of_funds", p.SourceOfFunds != ""},
	}
}

// MissingFields lists mandatory fields that are empty.
func (p *KYCProfile) MissingFields() []string {
	var missing []string
	for _, f := range p.personalFields() {
		if !f.filled {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// CompletionPercentage weighs mandatory fields at 60% and the three
// verification channels at 40%, a submitted channel counting half.
func (p *KYCProfile) CompletionPercentage() int {
	fields := p.personalFields()
	filled := 0
	for _, f := range fields {
		if f.filled {
			filled++
		}
	}

	channels := 0.0
	for _, s := range []SubStatus{p.IdentityVerificationStatus, p.AddressVerificationStatus, p.SelfieVerificationStatus} {
		switch s {
		case SubVerified:
			channels += 1
		case SubSubmitted:
			channels += 0.5
		}
	}

	pct := 60*float64(filled)/float64(len(fields)) + 40*channels/3
	return int(math.Round(pct))
}

// IsKYCComplete holds for approved profiles with every mandatory field.
func (p *KYCProfile) IsKYCComplete() bool {
	return p.KYCStatus == KYCApproved && len(p.MissingFields()) == 0
}

// AllChannelsVerified reports whether identity, address and selfie are Verified.
func (p *KYCProfile) AllChannelsVerified() bool {
	return p.IdentityVerificationStatus == SubVerified &&
		p.AddressVerificationStatus == SubVerified &&
		p.SelfieVerificationStatus == SubVerified
}

// AgeOn returns the age in whole years at the given date.
func AgeOn(dob, at time.Time) int {
	years := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	return years
}
