package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func TestDevCertReusedUntilHostsChange(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"localhost", "127.0.0.1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	again, err := gen.GenerateCert([]string{"localhost", "127.0.0.1"})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(first.Certificate[0]) != string(again.Certificate[0]) {
		t.Fatal("expected the stored certificate to be reused")
	}

	other, err := gen.GenerateCert([]string{"api.xamila.local", "localhost"})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	leaf, err := x509.ParseCertificate(other.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := leaf.VerifyHostname("api.xamila.local"); err != nil {
		t.Fatalf("expected new host in certificate: %v", err)
	}
}

func TestDevCertRegeneratedWhenExpired(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)
	first, err := gen.GenerateCert([]string{"localhost"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	gen.now = func() time.Time { return time.Now().Add(400 * 24 * time.Hour) }
	second, err := gen.GenerateCert([]string{"localhost"})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if string(first.Certificate[0]) == string(second.Certificate[0]) {
		t.Fatal("expected an expired certificate to be replaced")
	}
}

func TestGetCertificateFallbacks(t *testing.T) {
	dev := NewTLSManager(&TLSConfig{EnableTLS: true, Domain: "localhost", AutoCertDir: t.TempDir(), Environment: "development"})
	cert, err := dev.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if err != nil || cert == nil {
		t.Fatalf("expected development certificate, got %v", err)
	}
	cached, _ := dev.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if cached != cert {
		t.Fatal("expected the development certificate to be cached")
	}

	prod := NewTLSManager(&TLSConfig{EnableTLS: true, Domain: "api.xamila.com", AutoCertDir: t.TempDir(), Environment: "production"})
	if _, err := prod.GetCertificate(&tls.ClientHelloInfo{ServerName: "api.xamila.com"}); err == nil {
		t.Fatal("expected production without certificates to fail")
	}

	if cfg := dev.GetTLSConfig(); cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("expected TLS 1.2 minimum, got %x", cfg.MinVersion)
	}
}
