package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/franckdigital/xamila-backend-sub001/internal/encryption"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type kycRepo struct {
	q      querier
	cipher encryption.FieldCipher
}

const profileColumns = `id, user_id, first_name, last_name, middle_name, date_of_birth, place_of_birth,
	nationality, gender, address_line_1, address_line_2, city, state_province, postal_code, country,
	identity_doc_type, identity_doc_number_enc, identity_doc_expiry, identity_doc_issuing_country,
	occupation, employer_name, monthly_income, source_of_funds, kyc_status, risk_level,
	identity_verification_status, address_verification_status, selfie_verification_status, screening_status,
	verification_provider, verification_reference, verification_score,
	submitted_at, reviewed_at, approved_at, rejected_at, expires_at,
	rejection_reason, rejection_details, created_at, updated_at`

// sealDocNumber returns the ciphertext and blind index stored for number.
func (r *kycRepo) sealDocNumber(ctx context.Context, number string) (string, *string, error) {
	if number == "" {
		return "", nil, nil
	}
	sealed, err := r.cipher.Encrypt(ctx, number)
	if err != nil {
		return "", nil, fmt.Errorf("seal identity document number: %w", err)
	}
	index := r.cipher.BlindIndex(number)
	return sealed, &index, nil
}

func (r *kycRepo) profileArgs(ctx context.Context, p *models.KYCProfile) ([]any, error) {
	sealed, index, err := r.sealDocNumber(ctx, p.IdentityDocNumber)
	if err != nil {
		return nil, err
	}
	details, err := encodeJSON(p.RejectionDetails)
	if err != nil {
		return nil, err
	}
	var dob *time.Time
	if !p.DateOfBirth.IsZero() {
		dob = &p.DateOfBirth
	}
	return []any{
		p.ID, p.UserID, p.FirstName, p.LastName, p.MiddleName, dob, p.PlaceOfBirth,
		p.Nationality, p.Gender, p.AddressLine1, p.AddressLine2, p.City, p.StateProvince, p.PostalCode, p.Country,
		p.IdentityDocType, sealed, p.IdentityDocExpiry, p.IdentityDocIssuingCountry,
		p.Occupation, p.EmployerName, p.MonthlyIncome, p.SourceOfFunds, p.KYCStatus, p.RiskLevel,
		p.IdentityVerificationStatus, p.AddressVerificationStatus, p.SelfieVerificationStatus, p.ScreeningStatus,
		p.VerificationProvider, p.VerificationReference, p.VerificationScore,
		p.SubmittedAt, p.ReviewedAt, p.ApprovedAt, p.RejectedAt, p.ExpiresAt,
		p.RejectionReason, details, p.CreatedAt, p.UpdatedAt,
		index,
	}, nil
}

func (r *kycRepo) scanProfile(ctx context.Context, row pgx.Row) (*models.KYCProfile, error) {
	var (
		p       models.KYCProfile
		dob     *time.Time
		sealed  string
		details []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.MiddleName, &dob, &p.PlaceOfBirth,
		&p.Nationality, &p.Gender, &p.AddressLine1, &p.AddressLine2, &p.City, &p.StateProvince, &p.PostalCode, &p.Country,
		&p.IdentityDocType, &sealed, &p.IdentityDocExpiry, &p.IdentityDocIssuingCountry,
		&p.Occupation, &p.EmployerName, &p.MonthlyIncome, &p.SourceOfFunds, &p.KYCStatus, &p.RiskLevel,
		&p.IdentityVerificationStatus, &p.AddressVerificationStatus, &p.SelfieVerificationStatus, &p.ScreeningStatus,
		&p.VerificationProvider, &p.VerificationReference, &p.VerificationScore,
		&p.SubmittedAt, &p.ReviewedAt, &p.ApprovedAt, &p.RejectedAt, &p.ExpiresAt,
		&p.RejectionReason, &details, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if dob != nil {
		p.DateOfBirth = *dob
	}
	if sealed != "" {
		if p.IdentityDocNumber, err = r.cipher.Decrypt(ctx, sealed); err != nil {
			return nil, fmt.Errorf("open identity document number: %w", err)
		}
	}
	if p.RejectionDetails, err = decodeJSON(details); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *kycRepo) CreateProfile(ctx context.Context, p *models.KYCProfile) error {
	args, err := r.profileArgs(ctx, p)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO kyc_profiles (`+profileColumns+`, identity_doc_number_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
			$41, $42)`,
		args...,
	)
	return mapError(err)
}

func (r *kycRepo) GetProfile(ctx context.Context, id uuid.UUID) (*models.KYCProfile, error) {
	return r.scanProfile(ctx, r.q.QueryRow(ctx, `SELECT `+profileColumns+` FROM kyc_profiles WHERE id = $1`, id))
}

func (r *kycRepo) GetProfileByUser(ctx context.Context, userID uuid.UUID) (*models.KYCProfile, error) {
	return r.scanProfile(ctx, r.q.QueryRow(ctx, `SELECT `+profileColumns+` FROM kyc_profiles WHERE user_id = $1`, userID))
}

func (r *kycRepo) LockProfile(ctx context.Context, id uuid.UUID) (*models.KYCProfile, error) {
	return r.scanProfile(ctx, r.q.QueryRow(ctx, `SELECT `+profileColumns+` FROM kyc_profiles WHERE id = $1 FOR UPDATE`, id))
}

func (r *kycRepo) UpdateProfile(ctx context.Context, p *models.KYCProfile) error {
	args, err := r.profileArgs(ctx, p)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE kyc_profiles SET
			user_id = $2, first_name = $3, last_name = $4, middle_name = $5, date_of_birth = $6, place_of_birth = $7,
			nationality = $8, gender = $9, address_line_1 = $10, address_line_2 = $11, city = $12,
			state_province = $13, postal_code = $14, country = $15,
			identity_doc_type = $16, identity_doc_number_enc = $17, identity_doc_expiry = $18,
			identity_doc_issuing_country = $19, occupation = $20, employer_name = $21, monthly_income = $22,
			source_of_funds = $23, kyc_status = $24, risk_level = $25,
			identity_verification_status = $26, address_verification_status = $27,
			selfie_verification_status = $28, screening_status = $29,
			verification_provider = $30, verification_reference = $31, verification_score = $32,
			submitted_at = $33, reviewed_at = $34, approved_at = $35, rejected_at = $36, expires_at = $37,
			rejection_reason = $38, rejection_details = $39, created_at = $40, updated_at = $41,
			identity_doc_number_hash = $42
		WHERE id = $1`,
		args...,
	)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *kycRepo) ExpiringProfiles(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.q.Query(ctx, `
		SELECT id FROM kyc_profiles
		WHERE kyc_status = 'approved' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, mapError(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, mapError(err)
}

const documentColumns = `id, profile_id, document_type, file_ref, original_filename, file_size, mime_type,
	checksum, verification_status, auto_verification_score, extracted_data, verification_details,
	uploaded_at, verified_at, rejection_reason`

func scanDocument(row pgx.Row) (*models.KYCDocument, error) {
	var (
		d                  models.KYCDocument
		extracted, details []byte
	)
	err := row.Scan(
		&d.ID, &d.ProfileID, &d.DocumentType, &d.FileRef, &d.OriginalFilename, &d.FileSize, &d.MimeType,
		&d.Checksum, &d.VerificationStatus, &d.AutoVerificationScore, &extracted, &details,
		&d.UploadedAt, &d.VerifiedAt, &d.RejectionReason,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if d.ExtractedData, err = decodeJSON(extracted); err != nil {
		return nil, err
	}
	if d.VerificationDetails, err = decodeJSON(details); err != nil {
		return nil, err
	}
	return &d, nil
}

func documentArgs(d *models.KYCDocument) ([]any, error) {
	extracted, err := encodeJSON(d.ExtractedData)
	if err != nil {
		return nil, err
	}
	details, err := encodeJSON(d.VerificationDetails)
	if err != nil {
		return nil, err
	}
	return []any{
		d.ID, d.ProfileID, d.DocumentType, d.FileRef, d.OriginalFilename, d.FileSize, d.MimeType,
		d.Checksum, d.VerificationStatus, d.AutoVerificationScore, extracted, details,
		d.UploadedAt, d.VerifiedAt, d.RejectionReason,
	}, nil
}

func (r *kycRepo) CreateDocument(ctx context.Context, d *models.KYCDocument) error {
	args, err := documentArgs(d)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO kyc_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		args...,
	)
	return mapError(err)
}

func (r *kycRepo) GetDocument(ctx context.Context, id uuid.UUID) (*models.KYCDocument, error) {
	return scanDocument(r.q.QueryRow(ctx, `SELECT `+documentColumns+` FROM kyc_documents WHERE id = $1`, id))
}

func (r *kycRepo) GetDocumentByType(ctx context.Context, profileID uuid.UUID, t models.DocumentType) (*models.KYCDocument, error) {
	return scanDocument(r.q.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM kyc_documents WHERE profile_id = $1 AND document_type = $2`,
		profileID, t,
	))
}

func (r *kycRepo) ListDocuments(ctx context.Context, profileID uuid.UUID) ([]*models.KYCDocument, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+documentColumns+` FROM kyc_documents WHERE profile_id = $1 ORDER BY uploaded_at`, profileID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var docs []*models.KYCDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, mapError(rows.Err())
}

func (r *kycRepo) UpdateDocument(ctx context.Context, d *models.KYCDocument) error {
	args, err := documentArgs(d)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE kyc_documents SET
			document_type = $3, file_ref = $4, original_filename = $5, file_size = $6, mime_type = $7,
			checksum = $8, verification_status = $9, auto_verification_score = $10,
			extracted_data = $11, verification_details = $12, uploaded_at = $13,
			verified_at = $14, rejection_reason = $15
		WHERE id = $1 AND profile_id = $2`,
		args...,
	)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *kycRepo) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM kyc_documents WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *kycRepo) AppendLog(ctx context.Context, e *models.KYCVerificationLogEntry) error {
	oldValues, err := encodeJSON(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := encodeJSON(e.NewValues)
	if err != nil {
		return err
	}
	if oldValues == nil {
		oldValues = []byte("{}")
	}
	if newValues == nil {
		newValues = []byte("{}")
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO kyc_verification_logs
			(id, profile_id, action, description, performed_by, ip_address, user_agent, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.ProfileID, e.Action, e.Description, e.PerformedBy, e.IPAddress, e.UserAgent, oldValues, newValues, e.CreatedAt,
	)
	return mapError(err)
}

func (r *kycRepo) ListLogs(ctx context.Context, profileID uuid.UUID) ([]*models.KYCVerificationLogEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, profile_id, action, description, performed_by, ip_address, user_agent, old_values, new_values, created_at
		FROM kyc_verification_logs WHERE profile_id = $1 ORDER BY seq`, profileID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []*models.KYCVerificationLogEntry
	for rows.Next() {
		var (
			e                    models.KYCVerificationLogEntry
			oldValues, newValues []byte
		)
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Action, &e.Description, &e.PerformedBy,
			&e.IPAddress, &e.UserAgent, &oldValues, &newValues, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		if e.OldValues, err = decodeJSON(oldValues); err != nil {
			return nil, err
		}
		if e.NewValues, err = decodeJSON(newValues); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, mapError(rows.Err())
}
