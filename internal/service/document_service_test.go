package service

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/storage"
)

func TestUploadStoresDocument(t *testing.T) {
	h := newHarness(t, manualReview)
	p := h.customer("a@x.io", "+33612345678")
	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	data := jpegImage(t)
	doc, err := h.documents().Upload(h.ctx, p.User.ID, models.DocumentIdentityFront, `C:\scans\front id.jpg`,
		bytes.NewReader(data), UserActor(p.User.ID, ClientMeta{}))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.MimeType != "image/jpeg" || doc.FileSize != int64(len(data)) || doc.OriginalFilename != "front id.jpg" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.VerificationStatus != models.DocPending || len(doc.Checksum) != 64 {
		t.Fatalf("expected pending document with sha256 checksum, got %+v", doc)
	}
	stored, err := h.documents().Content(h.ctx, doc)
	if err != nil || !bytes.Equal(stored, data) {
		t.Fatalf("expected stored bytes to match, err %v", err)
	}
}

func TestUploadRejections(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	actor := UserActor(p.User.ID, ClientMeta{})

	_, err := h.documents().Upload(h.ctx, p.User.ID, models.DocumentSelfie, "s.png", bytes.NewReader(pngImage(t)), actor)
	expectCode(t, err, apperr.ErrKYCNotFound)

	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), actor); err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name    string
		docType models.DocumentType
		content []byte
		want    *apperr.Error
	}{
		{"too large", models.DocumentSelfie, make([]byte, MaxDocumentSize+1), apperr.ErrDocumentTooLarge},
		{"plain text", models.DocumentSelfie, []byte("definitely not an image"), apperr.ErrDocumentMimeRejected},
		{"empty", models.DocumentSelfie, nil, apperr.ErrDocumentMimeRejected},
		{"broken png", models.DocumentSelfie, pngImage(t)[:16], apperr.ErrDocumentMimeRejected},
		{"broken gif", models.DocumentSelfie, gifImage(t)[:8], apperr.ErrDocumentMimeRejected},
		{"unknown type", models.DocumentType("tax_return"), pngImage(t), apperr.ErrDocumentTypeInvalid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := h.documents().Upload(h.ctx, p.User.ID, c.docType, "f", bytes.NewReader(c.content), actor)
			expectCode(t, err, c.want)
		})
	}
	if n := h.blobs.Len(); n != 0 {
		t.Fatalf("expected no stored blobs, got %d", n)
	}
	docs, err := h.documents().List(h.ctx, p.User.ID)
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected no documents, got %d %v", len(docs), err)
	}
}

func TestUploadAcceptedFormats(t *testing.T) {
	h := newHarness(t, manualReview)
	p := h.customer("a@x.io", "+33612345678")
	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

	cases := []struct {
		docType  models.DocumentType
		filename string
		content  []byte
		want     string
	}{
		{models.DocumentProofOfAddress, "bill.pdf", pdf, "application/pdf"},
		{models.DocumentSelfie, "selfie.gif", gifImage(t), "image/gif"},
		{models.DocumentIdentityFront, "front.jpg", jpegImage(t), "image/jpeg"},
		{models.DocumentIdentityBack, "back.png", pngImage(t), "image/png"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			doc, err := h.documents().Upload(h.ctx, p.User.ID, c.docType, c.filename, bytes.NewReader(c.content), Actor{})
			if err != nil {
				t.Fatalf("upload: %v", err)
			}
			if doc.MimeType != c.want {
				t.Fatalf("expected %s, got %s", c.want, doc.MimeType)
			}
		})
	}
}

func TestUploadReplacesSameType(t *testing.T) {
	h := newHarness(t, manualReview)
	p := h.customer("a@x.io", "+33612345678")
	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := h.upload(p.User.ID, models.DocumentSelfie)
	second := h.upload(p.User.ID, models.DocumentSelfie)

	docs, err := h.documents().List(h.ctx, p.User.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != second.ID {
		t.Fatalf("expected only the replacement, got %d documents", len(docs))
	}
	if _, err := h.blobs.Get(h.ctx, first.FileRef); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected replaced blob to be deleted, got %v", err)
	}
	if h.blobs.Len() != 1 {
		t.Fatalf("expected one blob, got %d", h.blobs.Len())
	}

	history, err := h.profiles().History(h.ctx, p.User.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := history[len(history)-1]
	if last.Action != models.ActionDocumentUploaded || last.OldValues["document_id"] != first.ID.String() {
		t.Fatalf("expected replacement entry referencing the first document, got %+v", last)
	}
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t, manualReview)
	p := h.customer("a@x.io", "+33612345678")
	other := h.customer("b@x.io", "+33698765432")
	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.profiles().Create(h.ctx, other.User.ID, inputFor(other.User.ID, h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	doc := h.upload(p.User.ID, models.DocumentSelfie)

	err := h.documents().Delete(h.ctx, other.User.ID, doc.ID, Actor{})
	expectCode(t, err, apperr.ErrDocumentNotFound)

	if err := h.documents().Delete(h.ctx, p.User.ID, doc.ID, Actor{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if h.blobs.Len() != 0 {
		t.Fatalf("expected blob removed, got %d", h.blobs.Len())
	}
	view, _ := h.profiles().Status(h.ctx, p.User.ID)
	if view.SelfieVerificationStatus != models.SubNotSubmitted {
		t.Fatalf("expected selfie channel reset, got %s", view.SelfieVerificationStatus)
	}
	err = h.documents().Delete(h.ctx, p.User.ID, doc.ID, Actor{})
	expectCode(t, err, apperr.ErrDocumentNotFound)
}

func TestDocumentsFrozenAfterApproval(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	h.kycReady(p.User.ID)
	if _, err := h.profiles().Submit(h.ctx, p.User.ID, Actor{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	blobs := h.blobs.Len()

	_, err := h.documents().Upload(h.ctx, p.User.ID, models.DocumentOther, "x.png", bytes.NewReader(pngImage(t)), Actor{})
	expectCode(t, err, apperr.ErrKYCFrozen)
	docs, _ := h.documents().List(h.ctx, p.User.ID)
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	if err := h.documents().Delete(h.ctx, p.User.ID, docs[0].ID, Actor{}); !errors.Is(err, apperr.ErrKYCFrozen) {
		t.Fatalf("expected frozen, got %v", err)
	}

	// Expired profiles pass the early check but fail inside the record
	// transaction; the blob written for them must not survive.
	h.clock.Advance(366 * 24 * time.Hour)
	if n, err := h.profiles().ExpireDue(h.ctx); err != nil || n != 1 {
		t.Fatalf("expire: %d %v", n, err)
	}
	_, err = h.documents().Upload(h.ctx, p.User.ID, models.DocumentOther, "x.png", bytes.NewReader(pngImage(t)), Actor{})
	expectCode(t, err, apperr.ErrKYCTransitionForbidden)
	if h.blobs.Len() != blobs {
		t.Fatalf("expected %d blobs, got %d", blobs, h.blobs.Len())
	}
}

func TestCleanFilename(t *testing.T) {
	cases := map[string]string{
		"id.png":              "id.png",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\id.jpg`:  "id.jpg",
		"  spaced   name.pdf": "spaced name.pdf",
		"":                    "",
		"/":                   "",
	}
	for in, want := range cases {
		if got := cleanFilename(in); got != want {
			t.Errorf("cleanFilename(%q): expected %q, got %q", in, want, got)
		}
	}
}
