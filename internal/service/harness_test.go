package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/audit"
	"github.com/franckdigital/xamila-backend-sub001/internal/authtoken"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/hashing"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/notify"
	"github.com/franckdigital/xamila-backend-sub001/internal/phone"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository/memory"
	"github.com/franckdigital/xamila-backend-sub001/internal/storage"
	"github.com/franckdigital/xamila-backend-sub001/internal/verifier"
)

const testPassword = "Passw0rd!"

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT: config.JWTConfig{
			Secret:          "test-secret-0123456789abcdef",
			Issuer:          "xamila",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			RotateRefresh:   true,
		},
		OTP: config.OTPConfig{
			TTL:            10 * time.Minute,
			Length:         6,
			ResendInterval: time.Minute,
			MaxAttempts:    config.AttemptPolicy{Count: 5, Window: 10 * time.Minute},
			Cooldown:       10 * time.Minute,
		},
		Login: config.LoginConfig{
			MaxAttempts: config.AttemptPolicy{Count: 5, Window: 15 * time.Minute},
			Lockout:     15 * time.Minute,
		},
		Hashing: config.HashingConfig{MinLength: 8},
		KYC: config.KYCConfig{
			Provider:          verifier.ProviderMock,
			ScreeningProvider: "none",
			AutoVerify:        true,
			AutoApprove:       80,
			AutoReject:        50,
			ApprovalValidity:  365 * 24 * time.Hour,
			Queue:             QueueInline,
			MockScore:         90,
		},
		Cohort: config.CohortConfig{AccessCacheTTL: 2 * time.Minute},
	}
}

// seededCodes hands out codes in order, cycling.
func seededCodes(codes ...string) CodeGenerator {
	var (
		mu sync.Mutex
		i  int
	)
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	cfg      *config.Config
	clock    *clock.Fake
	store    *memory.Store
	limits   *memory.RateLimitStore
	sessions *memory.SessionCache
	blobs    *storage.Memory
	email    *notify.Mock
	sms      *notify.Mock
	audit    *audit.Memory
	events   *events.Recorder
	verifier *verifier.Mock
	factory  *ServiceFactory
}

func newHarness(t *testing.T, tweaks ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		cfg:      cfg,
		clock:    clock.NewFake(testStart),
		store:    memory.NewStore(),
		limits:   memory.NewRateLimitStore(),
		sessions: memory.NewSessionCache(),
		blobs:    storage.NewMemory(),
		email:    notify.NewMock("mock_email"),
		sms:      notify.NewMock("mock_sms"),
		audit:    &audit.Memory{},
		events:   &events.Recorder{},
		verifier: verifier.NewMock(cfg.KYC.MockScore),
	}

	phones, err := phone.NewNormalizer("+33")
	if err != nil {
		t.Fatalf("phone normalizer: %v", err)
	}
	signer, err := authtoken.NewSigner(cfg.JWT.Secret, cfg.JWT.Issuer, h.clock, clock.NewID)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	params := hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	deps := Dependencies{
		Store:            h.store,
		Limits:           h.limits,
		Sessions:         h.sessions,
		Blobs:            h.blobs,
		Email:            h.email,
		SMS:              h.sms,
		Audit:            h.audit,
		Events:           h.events,
		Phones:           phones,
		Hasher:           hashing.NewHasher(params, []string{"test-pepper"}),
		Signer:           signer,
		DocumentVerifier: h.verifier,
		Clock:            h.clock,
	}
	if cfg.KYC.ScreeningProvider != "none" {
		deps.Screener = h.verifier
	}
	h.factory = NewServiceFactory(cfg, deps, zap.NewNop())
	h.factory.OTPService().SetCodeGenerator(seededCodes("123456", "654321"))
	t.Cleanup(h.factory.Cleanup)
	return h
}

func (h *harness) auth() *AuthOrchestrator       { return h.factory.AuthOrchestrator() }
func (h *harness) profiles() *ProfileService     { return h.factory.ProfileService() }
func (h *harness) documents() *DocumentService   { return h.factory.DocumentService() }
func (h *harness) gateway() *VerificationGateway { return h.factory.Gateway() }
func (h *harness) cohorts() *CohortGate          { return h.factory.CohortGate() }

func (h *harness) register(email, phoneNumber string) uuid.UUID {
	h.t.Helper()
	res, err := h.auth().Register(h.ctx, RegisterInput{
		Email:     email,
		Password:  testPassword,
		Phone:     phoneNumber,
		FirstName: "A",
		LastName:  "B",
	})
	if err != nil {
		h.t.Fatalf("register %s: %v", email, err)
	}
	return res.UserID
}

// customer registers and activates a user, returning the principal of
// its first session.
func (h *harness) customer(email, phoneNumber string) *Principal {
	h.t.Helper()
	userID := h.register(email, phoneNumber)
	res, err := h.auth().VerifyOtp(h.ctx, userID, "123456", "654321", ClientMeta{})
	if err != nil {
		h.t.Fatalf("verify otp: %v", err)
	}
	principal, err := h.factory.TokenService().AuthenticateAccess(h.ctx, res.Tokens.AccessToken)
	if err != nil {
		h.t.Fatalf("authenticate: %v", err)
	}
	return principal
}

func (h *harness) user(id uuid.UUID) *models.User {
	h.t.Helper()
	u, err := h.store.Users().GetByID(h.ctx, id)
	if err != nil {
		h.t.Fatalf("load user: %v", err)
	}
	return u
}

func ptr[T any](v T) *T { return &v }

// completeInput fills every mandatory field for a 30 year old.
func completeInput(now time.Time) ProfileInput {
	return ProfileInput{
		FirstName:                 ptr("Awa"),
		LastName:                  ptr("Traore"),
		DateOfBirth:               ptr(now.AddDate(-30, 0, 0).Format("2006-01-02")),
		PlaceOfBirth:              ptr("Abidjan"),
		Nationality:               ptr("CI"),
		Gender:                    ptr("female"),
		AddressLine1:              ptr("12 rue des Jardins"),
		City:                      ptr("Abidjan"),
		StateProvince:             ptr("Lagunes"),
		PostalCode:                ptr("01 BP 1234"),
		Country:                   ptr("CI"),
		IdentityDocType:           ptr("national_id"),
		IdentityDocNumber:         ptr("ci 1234-5678"),
		IdentityDocExpiry:         ptr(now.AddDate(5, 0, 0).Format("2006-01-02")),
		IdentityDocIssuingCountry: ptr("CI"),
		Occupation:                ptr("Engineer"),
		MonthlyIncome:             ptr(850000.0),
		SourceOfFunds:             ptr("salary"),
	}
}

// inputFor is completeInput with an identity document number unique to
// userID.
func inputFor(userID uuid.UUID, now time.Time) ProfileInput {
	in := completeInput(now)
	in.IdentityDocNumber = ptr("CI-" + userID.String()[:8])
	return in
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func gifImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.White, color.Black})
	img.SetColorIndex(2, 2, 1)
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func jpegImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// kycReady creates a complete profile for userID and uploads the required
// documents.
func (h *harness) kycReady(userID uuid.UUID) *models.KYCProfile {
	h.t.Helper()
	actor := UserActor(userID, ClientMeta{IPAddress: "203.0.113.7"})
	p, err := h.profiles().Create(h.ctx, userID, inputFor(userID, h.clock.Now()), actor)
	if err != nil {
		h.t.Fatalf("create profile: %v", err)
	}
	for _, t := range models.RequiredDocuments {
		h.upload(userID, t)
	}
	return p
}

func (h *harness) upload(userID uuid.UUID, docType models.DocumentType) *models.KYCDocument {
	h.t.Helper()
	doc, err := h.documents().Upload(h.ctx, userID, docType, string(docType)+".png",
		bytes.NewReader(pngImage(h.t)), UserActor(userID, ClientMeta{}))
	if err != nil {
		h.t.Fatalf("upload %s: %v", docType, err)
	}
	return doc
}

func (h *harness) actions(userID uuid.UUID) []models.KYCAction {
	h.t.Helper()
	entries, err := h.profiles().History(h.ctx, userID)
	if err != nil {
		h.t.Fatalf("history: %v", err)
	}
	out := make([]models.KYCAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func expectCode(t *testing.T, err error, target *apperr.Error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
