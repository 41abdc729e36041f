package sns

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestCanonicalStringSubscriptionConfirmation(t *testing.T) {
	e := &Envelope{
		Type:         TypeSubscriptionConfirmation,
		MessageID:    "mid-1",
		Token:        "tok-1",
		TopicARN:     "arn:aws:sns:us-east-1:123456789012:nagios-alarms",
		Message:      "You have chosen to subscribe",
		Timestamp:    "2026-08-28T10:30:00.000Z",
		SubscribeURL: "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription",
	}

	want := "Message\nYou have chosen to subscribe\n" +
		"MessageId\nmid-1\n" +
		"SubscribeURL\nhttps://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription\n" +
		"Timestamp\n2026-08-28T10:30:00.000Z\n" +
		"Token\ntok-1\n" +
		"TopicArn\narn:aws:sns:us-east-1:123456789012:nagios-alarms\n" +
		"Type\nSubscriptionConfirmation\n"
	if got := e.CanonicalString(); got != want {
		t.Fatalf("canonical string mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestCanonicalStringNotification(t *testing.T) {
	e := &Envelope{
		Type:      TypeNotification,
		MessageID: "mid-2",
		TopicARN:  "arn:topic",
		Message:   "{}",
		Timestamp: "ts",
	}

	// Without a Subject the field is omitted entirely.
	want := "Message\n{}\nMessageId\nmid-2\nTimestamp\nts\nTopicArn\narn:topic\nType\nNotification\n"
	if got := e.CanonicalString(); got != want {
		t.Fatalf("canonical string without subject:\ngot  %q\nwant %q", got, want)
	}

	e.Subject = "ALARM: something"
	if got := e.CanonicalString(); !strings.Contains(got, "MessageId\nmid-2\nSubject\nALARM: something\nTimestamp\n") {
		t.Fatalf("subject not placed between MessageId and Timestamp: %q", got)
	}
}

func TestDecodeStateChange(t *testing.T) {
	sc, err := DecodeStateChange(`{
		"AlarmName": "shop-harvard-edu cart errors",
		"NewStateValue": "OK",
		"NewStateReason": "below threshold",
		"Trigger": {
			"MetricName": "HTTPCode_ELB_5XX_Count",
			"Namespace": "AWS/ELB",
			"Dimensions": [{"name": "LoadBalancerName", "value": "shop-elb"}]
		}
	}`)
	if err != nil {
		t.Fatalf("DecodeStateChange: %v", err)
	}
	if sc.AlarmName != "shop-harvard-edu cart errors" || sc.Trigger.MetricName != "HTTPCode_ELB_5XX_Count" {
		t.Fatalf("unexpected decode %+v", sc)
	}
	if len(sc.Trigger.Dimensions) != 1 || sc.Trigger.Dimensions[0].Value != "shop-elb" {
		t.Fatalf("dimensions not decoded: %+v", sc.Trigger.Dimensions)
	}

	if _, err := DecodeStateChange("not json"); err == nil {
		t.Fatal("expected decode error")
	}
}

// signingFixture builds a self-signed certificate and signs the canonical
// string the way SNS does (SHA1 with RSA).
func signingFixture(t *testing.T, canonical string) (certPEM []byte, signatureB64 string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sns.us-east-1.amazonaws.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	digest := sha1.Sum([]byte(canonical))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return certPEM, base64.StdEncoding.EncodeToString(sig)
}

type fakeFetcher struct {
	cert     []byte
	failures int
	calls    int
}

func (f *fakeFetcher) Fetch(string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient fetch failure")
	}
	return f.cert, nil
}

func TestVerify(t *testing.T) {
	canonical := (&Envelope{Type: TypeNotification, MessageID: "m", TopicARN: "t", Message: "x", Timestamp: "ts"}).CanonicalString()
	certPEM, sig := signingFixture(t, canonical)

	v := &Verifier{Fetcher: &fakeFetcher{cert: certPEM}}
	if !v.Verify("https://sns.us-east-1.amazonaws.com/cert.pem", sig, canonical) {
		t.Fatal("valid signature rejected")
	}
	if v.Verify("https://sns.us-east-1.amazonaws.com/cert.pem", sig, canonical+"tampered") {
		t.Fatal("tampered canonical string accepted")
	}
	if v.Verify("https://sns.us-east-1.amazonaws.com/cert.pem", "!!not-base64!!", canonical) {
		t.Fatal("malformed signature accepted")
	}
}

func TestVerifyRetriesTransientFetchFailures(t *testing.T) {
	canonical := "Message\nx\n"
	certPEM, sig := signingFixture(t, canonical)

	f := &fakeFetcher{cert: certPEM, failures: 2}
	v := &Verifier{Fetcher: f}
	if !v.Verify("url", sig, canonical) {
		t.Fatal("verify failed despite fetch succeeding within retry budget")
	}
	if f.calls != 3 {
		t.Fatalf("fetch called %d times, want 3", f.calls)
	}
}

func TestVerifyFailsClosedAfterRetryBudget(t *testing.T) {
	f := &fakeFetcher{failures: 10}
	v := &Verifier{Fetcher: f}
	if v.Verify("url", "sig", "canonical") {
		t.Fatal("verify succeeded with an unreachable certificate")
	}
	if f.calls != 3 {
		t.Fatalf("fetch called %d times, want 3 (1 + %d retries)", f.calls, certFetchRetries)
	}
}

func TestVerifyRejectsGarbageCertificate(t *testing.T) {
	v := &Verifier{Fetcher: &fakeFetcher{cert: []byte("not a pem")}}
	if v.Verify("url", "c2ln", "canonical") {
		t.Fatal("garbage certificate accepted")
	}
}
