package models

import (
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentIdentityFront  DocumentType = "identity_front"
	DocumentIdentityBack   DocumentType = "identity_back"
	DocumentSelfie         DocumentType = "selfie"
	DocumentProofOfAddress DocumentType = "proof_of_address"
	DocumentBankStatement  DocumentType = "bank_statement"
	DocumentSalarySlip     DocumentType = "salary_slip"
	DocumentOther          DocumentType = "other"
)

func (d DocumentType) IsValid() bool {
	switch d {
	case DocumentIdentityFront, DocumentIdentityBack, DocumentSelfie, DocumentProofOfAddress,
		DocumentBankStatement, DocumentSalarySlip, DocumentOther:
		return true
	}
	return false
}

// RequiredDocuments must be present before a profile can be submitted.
var RequiredDocuments = []DocumentType{
	DocumentIdentityFront,
	DocumentSelfie,
	DocumentProofOfAddress,
}

func (d DocumentType) Required() bool {
	for _, r := range RequiredDocuments {
		if r == d {
			return true
		}
	}
	return false
}

type DocumentStatus string

const (
	DocPending    DocumentStatus = "pending"
	DocProcessing DocumentStatus = "processing"
	DocVerified   DocumentStatus = "verified"
	DocRejected   DocumentStatus = "rejected"
	DocExpired    DocumentStatus = "expired"
)

type KYCDocument struct {
	ID                    uuid.UUID      `db:"id" json:"id"`
	ProfileID             uuid.UUID      `db:"profile_id" json:"profile_id"`
	DocumentType          DocumentType   `db:"document_type" json:"document_type"`
	FileRef               string         `db:"file_ref" json:"-"`
	OriginalFilename      string         `db:"original_filename" json:"original_filename"`
	FileSize              int64          `db:"file_size" json:"file_size"`
	MimeType              string         `db:"mime_type" json:"mime_type"`
	Checksum              string         `db:"checksum" json:"checksum"`
	VerificationStatus    DocumentStatus `db:"verification_status" json:"verification_status"`
	AutoVerificationScore *int           `db:"auto_verification_score" json:"auto_verification_score,omitempty"`
	ExtractedData         map[string]any `db:"extracted_data" json:"extracted_data,omitempty"`
	VerificationDetails   map[string]any `db:"verification_details" json:"verification_details,omitempty"`
	UploadedAt            time.Time      `db:"uploaded_at" json:"uploaded_at"`
	VerifiedAt            *time.Time     `db:"verified_at" json:"verified_at,omitempty"`
	RejectionReason       *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
}
