package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes a self-signed CA certificate and key into dir and returns the
// paths. The same certificate serves as leaf and CA.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "usagecast-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"complete", Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert}, false},
		{"missing ca", Config{Enabled: true, CertFile: cert, KeyFile: key}, true},
		{"unreadable", Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: filepath.Join(dir, "nope.pem")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ServerAndClient(t *testing.T) {
	cert, key := writeSelfSigned(t, t.TempDir())
	cfg := Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert}

	srv, err := cfg.Server()
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if srv.ClientAuth != tls.RequireAndVerifyClientCert || srv.MinVersion != tls.VersionTLS13 {
		t.Errorf("server config = %+v", srv)
	}
	if len(srv.Certificates) != 1 {
		t.Error("server certificate not loaded")
	}

	cli, err := cfg.Client()
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if cli.RootCAs == nil || len(cli.Certificates) != 1 {
		t.Errorf("client config = %+v", cli)
	}
}

func TestConfig_Disabled(t *testing.T) {
	srv, err := Config{}.Server()
	if srv != nil || err != nil {
		t.Errorf("Server() = %v, %v; want nil, nil", srv, err)
	}
	cli, err := Config{}.Client()
	if cli != nil || err != nil {
		t.Errorf("Client() = %v, %v; want nil, nil", cli, err)
	}
}

func TestNewClientTLSConfig_BadCA(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)
	bad := filepath.Join(dir, "bad.pem")
	os.WriteFile(bad, []byte("not a certificate"), 0o600)

	if _, err := NewClientTLSConfig(cert, key, bad); err == nil {
		t.Error("expected error for unparseable CA")
	}
}
