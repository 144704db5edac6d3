package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

type kyc struct{ v view }

func cloneProfile(p *models.KYCProfile) *models.KYCProfile {
	c := *p
	c.RejectionDetails = cloneMap(p.RejectionDetails)
	return &c
}

func cloneDocument(doc *models.KYCDocument) *models.KYCDocument {
	c := *doc
	c.ExtractedData = cloneMap(doc.ExtractedData)
	c.VerificationDetails = cloneMap(doc.VerificationDetails)
	return &c
}

func cloneEntry(e *models.KYCVerificationLogEntry) *models.KYCVerificationLogEntry {
	c := *e
	c.OldValues = cloneMap(e.OldValues)
	c.NewValues = cloneMap(e.NewValues)
	return &c
}

func profileConflict(d *dataset, p *models.KYCProfile) error {
	for _, other := range d.profiles {
		if other.ID == p.ID {
			continue
		}
		if other.UserID == p.UserID {
			return &repository.ConflictError{Field: "user_id"}
		}
		if p.IdentityDocNumber != "" && other.IdentityDocNumber == p.IdentityDocNumber {
			return &repository.ConflictError{Field: "identity_doc_number"}
		}
	}
	return nil
}

func (r kyc) CreateProfile(ctx context.Context, p *models.KYCProfile) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.users[p.UserID]; !ok {
			return repository.ErrNotFound
		}
		if err := profileConflict(d, p); err != nil {
			return err
		}
		d.profiles[p.ID] = cloneProfile(p)
		return nil
	})
}

func (r kyc) GetProfile(ctx context.Context, id uuid.UUID) (*models.KYCProfile, error) {
	var out *models.KYCProfile
	err := r.v.run(func(d *dataset) error {
		p, ok := d.profiles[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneProfile(p)
		return nil
	})
	return out, err
}

func (r kyc) GetProfileByUser(ctx context.Context, userID uuid.UUID) (*models.KYCProfile, error) {
	var out *models.KYCProfile
	err := r.v.run(func(d *dataset) error {
		for _, p := range d.profiles {
			if p.UserID == userID {
				out = cloneProfile(p)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r kyc) LockProfile(ctx context.Context, id uuid.UUID) (*models.KYCProfile, error) {
	return r.GetProfile(ctx, id)
}

func (r kyc) UpdateProfile(ctx context.Context, p *models.KYCProfile) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.profiles[p.ID]; !ok {
			return repository.ErrNotFound
		}
		if err := profileConflict(d, p); err != nil {
			return err
		}
		d.profiles[p.ID] = cloneProfile(p)
		return nil
	})
}

func (r kyc) ExpiringProfiles(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []*models.KYCProfile
	err := r.v.run(func(d *dataset) error {
		for _, p := range d.profiles {
			if p.KYCStatus == models.KYCApproved && p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
				due = append(due, p)
			}
		}
		return nil
	})
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, err
}

func (r kyc) CreateDocument(ctx context.Context, doc *models.KYCDocument) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.profiles[doc.ProfileID]; !ok {
			return repository.ErrNotFound
		}
		for _, other := range d.documents {
			if other.ProfileID == doc.ProfileID && other.DocumentType == doc.DocumentType {
				return &repository.ConflictError{Field: "document_type"}
			}
		}
		d.documents[doc.ID] = cloneDocument(doc)
		return nil
	})
}

func (r kyc) GetDocument(ctx context.Context, id uuid.UUID) (*models.KYCDocument, error) {
	var out *models.KYCDocument
	err := r.v.run(func(d *dataset) error {
		doc, ok := d.documents[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneDocument(doc)
		return nil
	})
	return out, err
}

func (r kyc) GetDocumentByType(ctx context.Context, profileID uuid.UUID, t models.DocumentType) (*models.KYCDocument, error) {
	var out *models.KYCDocument
	err := r.v.run(func(d *dataset) error {
		for _, doc := range d.documents {
			if doc.ProfileID == profileID && doc.DocumentType == t {
				out = cloneDocument(doc)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r kyc) ListDocuments(ctx context.Context, profileID uuid.UUID) ([]*models.KYCDocument, error) {
	var out []*models.KYCDocument
	err := r.v.run(func(d *dataset) error {
		for _, doc := range d.documents {
			if doc.ProfileID == profileID {
				out = append(out, cloneDocument(doc))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, err
}

func (r kyc) UpdateDocument(ctx context.Context, doc *models.KYCDocument) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.documents[doc.ID]; !ok {
			return repository.ErrNotFound
		}
		d.documents[doc.ID] = cloneDocument(doc)
		return nil
	})
}

func (r kyc) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.documents[id]; !ok {
			return repository.ErrNotFound
		}
		delete(d.documents, id)
		return nil
	})
}

func (r kyc) AppendLog(ctx context.Context, e *models.KYCVerificationLogEntry) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.profiles[e.ProfileID]; !ok {
			return repository.ErrNotFound
		}
		d.logs = append(d.logs, cloneEntry(e))
		return nil
	})
}

// ListLogs returns entries in insertion order.
func (r kyc) ListLogs(ctx context.Context, profileID uuid.UUID) ([]*models.KYCVerificationLogEntry, error) {
	var out []*models.KYCVerificationLogEntry
	err := r.v.run(func(d *dataset) error {
		for _, e := range d.logs {
			if e.ProfileID == profileID {
				out = append(out, cloneEntry(e))
			}
		}
		return nil
	})
	return out, err
}
