package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/jobs"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/storage"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// MaxDocumentSize is the largest accepted upload.
const MaxDocumentSize = 10 << 20

const maxFilenameLength = 255

// acceptedTypes maps sniffed content types to blob extensions.
var acceptedTypes = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"application/pdf": "pdf",
}

// DocumentService stores KYC documents. Record changes run through the
// profile service so they serialize with verification results.
type DocumentService struct {
	profiles *ProfileService
	blobs    storage.BlobStore
	clock    clock.Clock
	newID    clock.IDGenerator
	logger   *zap.Logger
}

func NewDocumentService(profiles *ProfileService, blobs storage.BlobStore, clk clock.Clock, newID clock.IDGenerator, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		profiles: profiles,
		blobs:    blobs,
		clock:    clk,
		newID:    newID,
		logger:   logger,
	}
}

func documentNotFound() error {
	return apperr.Document(apperr.CodeNotFound, "document not found")
}

// sniff returns the content type and extension of data, judged by its
// bytes rather than the filename. Images must have a readable header.
func sniff(data []byte) (string, string, error) {
	contentType := http.DetectContentType(data)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := acceptedTypes[contentType]
	if !ok {
		return "", "", apperr.Document(apperr.CodeMimeRejected, fmt.Sprintf("content type %s is not accepted", contentType))
	}
	if strings.HasPrefix(contentType, "image/") {
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return "", "", apperr.Document(apperr.CodeMimeRejected, "image header is unreadable")
		}
	}
	return contentType, ext, nil
}

func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = util.CollapseSpaces(name)
	if r := []rune(name); len(r) > maxFilenameLength {
		name = string(r[:maxFilenameLength])
	}
	return name
}

// Upload stores a document of docType for the user's profile, replacing
// any previous document of that type. Rejected content never reaches the
// store: the blob is written first and removed again if the record
// transaction fails.
func (s *DocumentService) Upload(
	ctx context.Context,
	userID uuid.UUID,
	docType models.DocumentType,
	filename string,
	content io.Reader,
	actor Actor,
) (*models.KYCDocument, error) {
	if !docType.IsValid() {
		return nil, apperr.Document(apperr.CodeTypeInvalid, fmt.Sprintf("unknown document type %q", docType))
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, apperr.Document(apperr.CodeTooLarge, "file exceeds 10 MiB")
	}
	if len(data) == 0 {
		return nil, apperr.Document(apperr.CodeMimeRejected, "file is empty")
	}
	contentType, ext, err := sniff(data)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.KYCStatus.Frozen() {
		return nil, apperr.KYCState(apperr.CodeFrozen, fmt.Sprintf("profile is %s", profile.KYCStatus))
	}

	sum := sha256.Sum256(data)
	doc := &models.KYCDocument{
		ID:                 s.newID(),
		ProfileID:          profile.ID,
		DocumentType:       docType,
		OriginalFilename:   cleanFilename(filename),
		FileSize:           int64(len(data)),
		MimeType:           contentType,
		Checksum:           hex.EncodeToString(sum[:]),
		VerificationStatus: models.DocPending,
	}
	doc.FileRef = fmt.Sprintf("kyc_documents/%s/%s/%s.%s", userID, docType, doc.ID, ext)

	if err := s.blobs.Put(ctx, doc.FileRef, data, contentType); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	_, cs, err := s.profiles.withProfile(ctx, profile.ID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		now := s.clock.Now()
		if err := s.profiles.editableTx(ctx, tx, p, actor, now, cs); err != nil {
			return err
		}

		newValues := map[string]any{
			"document_id":   doc.ID.String(),
			"document_type": string(docType),
			"file_size":     doc.FileSize,
			"mime_type":     contentType,
		}
		var oldValues map[string]any
		prev, err := tx.KYC().GetDocumentByType(ctx, p.ID, docType)
		switch {
		case err == nil:
			if err := tx.KYC().DeleteDocument(ctx, prev.ID); err != nil {
				return fmt.Errorf("delete previous document: %w", err)
			}
			cs.staleBlobs = append(cs.staleBlobs, prev.FileRef)
			oldValues = map[string]any{
				"document_id":         prev.ID.String(),
				"verification_status": string(prev.VerificationStatus),
			}
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("load previous document: %w", err)
		}

		doc.UploadedAt = now
		if err := tx.KYC().CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		docs, err := tx.KYC().ListDocuments(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		deriveSubStatuses(p, docs)
		p.UpdatedAt = now
		if err := s.profiles.saveTx(ctx, tx, p); err != nil {
			return err
		}
		if err := s.profiles.logTx(ctx, tx, p.ID, models.ActionDocumentUploaded,
			fmt.Sprintf("Uploaded %s", docType), actor, oldValues, newValues, now); err != nil {
			return err
		}
		if s.profiles.cfg.AutoVerify {
			cs.jobs = append(cs.jobs, jobs.DocumentJob(p.ID, doc.ID, now))
		}
		return nil
	})
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), doc.FileRef); derr != nil {
			s.logger.Warn("Failed to remove orphaned document blob",
				util.String("file_ref", doc.FileRef),
				util.ErrorField(derr))
		}
		return nil, err
	}
	s.dropStale(ctx, cs)

	s.logger.Info("KYC document uploaded",
		util.String("profile_id", profile.ID.String()),
		util.String("document_id", doc.ID.String()),
		util.String("document_type", string(docType)),
		util.Int64("size", doc.FileSize))

	if len(cs.jobs) > 0 {
		if fresh, err := s.profiles.store.KYC().GetDocument(ctx, doc.ID); err == nil {
			return fresh, nil
		}
	}
	return doc, nil
}

func (s *DocumentService) dropStale(ctx context.Context, cs *changeSet) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range cs.staleBlobs {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.Warn("Failed to delete replaced document blob",
				util.String("file_ref", ref),
				util.ErrorField(err))
		}
	}
}

func (s *DocumentService) List(ctx context.Context, userID uuid.UUID) ([]*models.KYCDocument, error) {
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.profiles.store.KYC().ListDocuments(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Delete removes one of the user's documents while the profile is Pending.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uuid.UUID, actor Actor) error {
	_, cs, err := s.profiles.withUserProfile(ctx, userID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		switch {
		case p.KYCStatus.Frozen():
			return apperr.KYCState(apperr.CodeFrozen, fmt.Sprintf("profile is %s", p.KYCStatus))
		case p.KYCStatus != models.KYCPending:
			return apperr.KYCState(apperr.CodeTransitionForbidden, "documents can only be deleted while the profile is pending")
		}
		doc, err := tx.KYC().GetDocument(ctx, documentID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.ProfileID != p.ID) {
			return documentNotFound()
		}
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if err := tx.KYC().DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		docs, err := tx.KYC().ListDocuments(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		now := s.clock.Now()
		deriveSubStatuses(p, docs)
		p.UpdatedAt = now
		if err := s.profiles.saveTx(ctx, tx, p); err != nil {
			return err
		}
		cs.staleBlobs = append(cs.staleBlobs, doc.FileRef)
		return s.profiles.logTx(ctx, tx, p.ID, models.ActionDocumentDeleted,
			fmt.Sprintf("Deleted %s", doc.DocumentType), actor,
			map[string]any{"document_id": doc.ID.String(), "document_type": string(doc.DocumentType)}, nil, now)
	})
	if err != nil {
		return err
	}
	s.dropStale(ctx, cs)
	return nil
}

// Content loads the stored bytes of doc.
func (s *DocumentService) Content(ctx context.Context, doc *models.KYCDocument) ([]byte, error) {
	data, err := s.blobs.Get(ctx, doc.FileRef)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", doc.ID, err)
	}
	return data, nil
}
