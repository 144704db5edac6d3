package handler

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// multipartOverhead leaves room for the form fields around the file.
const multipartOverhead = 1 << 20

// KYCHandler handles the customer side of KYC onboarding
type KYCHandler struct {
	responder
	profiles  *service.ProfileService
	documents *service.DocumentService
	tokens    AccessAuthenticator
}

// NewKYCHandler creates a new kyc handler
func NewKYCHandler(profiles *service.ProfileService, documents *service.DocumentService, tokens AccessAuthenticator, logger *zap.Logger) *KYCHandler {
	return &KYCHandler{
		responder: responder{logger: logger},
		profiles:  profiles,
		documents: documents,
		tokens:    tokens,
	}
}

// RegisterRoutes registers all kyc routes
func (h *KYCHandler) RegisterRoutes(router chi.Router) {
	router.Route("/kyc", func(r chi.Router) {
		r.Use(Authenticate(h.tokens, h.logger))

		r.Post("/profile", h.CreateProfile)
		r.Get("/profile", h.GetProfile)
		r.Patch("/profile", h.UpdateProfile)
		r.Get("/status", h.Status)

		r.Post("/documents", h.UploadDocument)
		r.Get("/documents", h.ListDocuments)
		r.Get("/documents/{documentID}/file", h.DownloadDocument)
		r.Delete("/documents/{documentID}", h.DeleteDocument)

		r.Post("/submit", h.Submit)
		r.Post("/reopen", h.Reopen)
		r.Get("/history", h.History)
	})
}

// CreateProfile handles profile creation
func (h *KYCHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	principal := PrincipalFrom(ctx)

	var req service.ProfileInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}

	profile, err := h.profiles.Create(ctx, principal.User.ID, req, actor(r))
	if err != nil {
		h.fail(w, r, err, "Failed to create kyc profile")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(profile, "KYC profile created"))
	h.logger.Info("KYC profile created via HTTP",
		util.String("profile_id", profile.ID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CreateProfile"),
	)
}

// GetProfile handles profile retrieval
func (h *KYCHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	profile, err := h.profiles.Get(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to get kyc profile")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
}

// UpdateProfile handles partial updates while the profile is Pending
func (h *KYCHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	principal := PrincipalFrom(ctx)

	var req service.ProfileInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}

	profile, err := h.profiles.Update(ctx, principal.User.ID, req, actor(r))
	if err != nil {
		h.fail(w, r, err, "Failed to update kyc profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(profile, "KYC profile updated"))
	h.logger.Info("KYC profile updated via HTTP",
		util.String("profile_id", profile.ID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UpdateProfile"),
	)
}

// Status handles the derived progress view
func (h *KYCHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	view, err := h.profiles.Status(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to get kyc status")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(view, ""))
}

// UploadDocument handles a multipart document_type + file upload
func (h *KYCHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	principal := PrincipalFrom(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, service.MaxDocumentSize+multipartOverhead)
	if err := r.ParseMultipartForm(service.MaxDocumentSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, apperr.Document(apperr.CodeTooLarge, "file exceeds 10 MiB"), "Upload rejected")
			return
		}
		h.fail(w, r, apperr.Validation("file", "expected a multipart form"), "Invalid upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	docType := models.DocumentType(r.FormValue("document_type"))
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, apperr.Validation("file", "is required"), "Invalid upload")
		return
	}
	defer file.Close()

	doc, err := h.documents.Upload(ctx, principal.User.ID, docType, header.Filename, file, actor(r))
	if err != nil {
		h.fail(w, r, err, "Failed to upload document")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(doc, "Document uploaded"))
	h.logger.Info("KYC document uploaded via HTTP",
		util.String("document_id", doc.ID.String()),
		util.String("document_type", string(doc.DocumentType)),
		util.Int64("size", doc.FileSize),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UploadDocument"),
	)
}

// ListDocuments handles document listing
func (h *KYCHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	docs, err := h.documents.List(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to list documents")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(docs, ""))
}

// DownloadDocument streams the stored file of one of the caller's documents
func (h *KYCHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	documentID, err := parseUUID("document_id", chi.URLParam(r, "documentID"))
	if err != nil {
		h.fail(w, r, err, "Invalid document id")
		return
	}
	docs, err := h.documents.List(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to load document")
		return
	}
	var doc *models.KYCDocument
	for _, d := range docs {
		if d.ID == documentID {
			doc = d
			break
		}
	}
	if doc == nil {
		h.fail(w, r, apperr.Document(apperr.CodeNotFound, "document not found"), "Failed to load document")
		return
	}

	data, err := h.documents.Content(ctx, doc)
	if err != nil {
		h.fail(w, r, err, "Failed to load document")
		return
	}
	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename}))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteDocument handles document removal while the profile is editable
func (h *KYCHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	documentID, err := parseUUID("document_id", chi.URLParam(r, "documentID"))
	if err != nil {
		h.fail(w, r, err, "Invalid document id")
		return
	}
	if err := h.documents.Delete(ctx, principal.User.ID, documentID, actor(r)); err != nil {
		h.fail(w, r, err, "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles Pending -> UnderReview
func (h *KYCHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	principal := PrincipalFrom(ctx)

	profile, err := h.profiles.Submit(ctx, principal.User.ID, actor(r))
	if err != nil {
		h.fail(w, r, err, "Failed to submit kyc profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(profile, "KYC profile submitted"))
	h.logger.Info("KYC profile submitted via HTTP",
		util.String("profile_id", profile.ID.String()),
		util.String("kyc_status", string(profile.KYCStatus)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Submit"),
	)
}

// Reopen handles Rejected -> Pending
func (h *KYCHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	profile, err := h.profiles.Reopen(ctx, principal.User.ID, actor(r))
	if err != nil {
		h.fail(w, r, err, "Failed to reopen kyc profile")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(profile, "KYC profile reopened"))
}

// History handles the verification log of the caller's profile
func (h *KYCHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	entries, err := h.profiles.History(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to get kyc history")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(entries, ""))
}
