package sns

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/log"
)

// certFetchRetries is the number of extra attempts after the first failed
// certificate fetch.
const certFetchRetries = 2

// CertFetcher retrieves signing certificate bytes by URL. It is an
// interface so tests can substitute a failing-then-succeeding fake.
type CertFetcher interface {
	Fetch(url string) ([]byte, error)
}

// HTTPFetcher is the production CertFetcher.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("certificate fetch returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Verifier checks envelope signatures against their signing certificate.
type Verifier struct {
	Fetcher CertFetcher
}

func NewVerifier() *Verifier {
	return &Verifier{Fetcher: &HTTPFetcher{
		Client: &http.Client{Timeout: 10 * time.Second},
	}}
}

// Verify fetches the certificate, extracts its public key and checks the
// base64 signature over the canonical string (SHA1 with RSA, the
// algorithm SNS SignatureVersion 1 uses). Any fetch, parse or mismatch
// failure returns false; nothing propagates past this boundary.
func (v *Verifier) Verify(certURL, signatureB64, canonical string) bool {
	var cert []byte
	err := backoff.Retry(func() error {
		var err error
		cert, err = v.Fetcher.Fetch(certURL)
		return err
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), certFetchRetries))
	if err != nil {
		log.Get().Warn("certificate fetch failed",
			zap.String("cert_url", certURL),
			zap.Error(err))
		return false
	}

	pub, err := publicKeyFrom(cert)
	if err != nil {
		log.Get().Warn("unusable signing certificate",
			zap.String("cert_url", certURL),
			zap.Error(err))
		return false
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		log.Get().Warn("signature is not valid base64", zap.Error(err))
		return false
	}

	digest := sha1.Sum([]byte(canonical))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], signature); err != nil {
		log.Get().Warn("signature does not match canonical string",
			zap.String("cert_url", certURL))
		return false
	}
	return true
}

func publicKeyFrom(certPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not carry an RSA public key")
	}
	return pub, nil
}
