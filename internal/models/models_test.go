package models

import (
	"testing"
	"time"
)

func completeProfile() *KYCProfile {
	return &KYCProfile{
		FirstName:                  "Awa",
		LastName:                   "Diallo",
		DateOfBirth:                time.Date(1996, 5, 17, 0, 0, 0, 0, time.UTC),
		PlaceOfBirth:               "Dakar",
		Nationality:                "SN",
		Gender:                     "female",
		AddressLine1:               "12 rue de la Paix",
		City:                       "Paris",
		StateProvince:              "IDF",
		PostalCode:                 "75002",
		Country:                    "FR",
		IdentityDocType:            DocPassport,
		IdentityDocNumber:          "P1234567",
		IdentityDocIssuingCountry:  "SN",
		Occupation:                 "Engineer",
		SourceOfFunds:              FundsSalary,
		KYCStatus:                  KYCPending,
		IdentityVerificationStatus: SubNotSubmitted,
		AddressVerificationStatus:  SubNotSubmitted,
		SelfieVerificationStatus:   SubNotSubmitted,
	}
}

func TestCompletionPercentage(t *testing.T) {
	p := completeProfile()
	if got := p.CompletionPercentage(); got != 60 {
		t.Fatalf("expected 60 with fields only, got %d", got)
	}

	p.IdentityVerificationStatus = SubSubmitted
	p.AddressVerificationStatus = SubVerified
	p.SelfieVerificationStatus = SubVerified
	if got := p.CompletionPercentage(); got != 93 {
		t.Fatalf("expected 93, got %d", got)
	}

	p.IdentityVerificationStatus = SubVerified
	if got := p.CompletionPercentage(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}

	empty := &KYCProfile{}
	if got := empty.CompletionPercentage(); got != 0 {
		t.Fatalf("expected 0 for empty profile, got %d", got)
	}
}

func TestMissingFields(t *testing.T) {
	p := completeProfile()
	if m := p.MissingFields(); len(m) != 0 {
		t.Fatalf("expected no missing fields, got %v", m)
	}
	p.City = ""
	p.Occupation = ""
	m := p.MissingFields()
	if len(m) != 2 || m[0] != "city" || m[1] != "occupation" {
		t.Fatalf("unexpected missing fields %v", m)
	}
}

func TestIsKYCComplete(t *testing.T) {
	p := completeProfile()
	if p.IsKYCComplete() {
		t.Fatal("pending profile must not be complete")
	}
	p.KYCStatus = KYCApproved
	if !p.IsKYCComplete() {
		t.Fatal("approved full profile must be complete")
	}
	p.Gender = ""
	if p.IsKYCComplete() {
		t.Fatal("missing field must make profile incomplete")
	}
}

func TestAgeOn(t *testing.T) {
	dob := time.Date(2008, 3, 15, 0, 0, 0, 0, time.UTC)
	if got := AgeOn(dob, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)); got != 17 {
		t.Fatalf("expected 17 the day before the birthday, got %d", got)
	}
	if got := AgeOn(dob, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)); got != 18 {
		t.Fatalf("expected 18 on the birthday, got %d", got)
	}
}

func TestOTPValidity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := &OTP{ExpiresAt: now.Add(10 * time.Minute)}
	if !o.IsValid(now) {
		t.Fatal("expected valid otp")
	}
	if o.IsValid(now.Add(10 * time.Minute)) {
		t.Fatal("expected otp to expire at expires_at")
	}
	o.IsUsed = true
	if o.IsValid(now) {
		t.Fatal("expected used otp to be invalid")
	}
}
