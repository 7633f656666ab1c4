package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

var (
	getHeaders  = []string{httpsig.RequestTarget, "host", "date"}
	postHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}
)

// SignRequest signs an outgoing request with the actor key identified by
// keyID. POST requests must already carry a Digest header.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyID string) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		host := req.Host
		if host == "" {
			host = req.URL.Host
		}
		req.Header.Set("Host", host)
	}

	headers := getHeaders
	if req.Method == http.MethodPost {
		headers = postHeaders
	}
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	return signer.SignRequest(privateKey, keyID, req, nil)
}

// Servers move Host out of the header map; signatures cover it as a header.
func restoreHost(req *http.Request) {
	if req.Header.Get("Host") == "" && req.Host != "" {
		req.Header.Set("Host", req.Host)
	}
}

// SignatureKeyID returns the keyId named by the request's signature.
func SignatureKeyID(req *http.Request) (string, error) {
	restoreHost(req)
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to read signature: %w", err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest verifies the signature of an incoming request against the
// sender's public key and returns the actor URI the key belongs to.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	restoreHost(req)
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	return KeyOwner(verifier.KeyId()), nil
}

// KeyOwner strips the fragment from a keyId:
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice".
func KeyOwner(keyID string) string {
	owner, _, _ := strings.Cut(keyID, "#")
	return owner
}

// maxClockSkew bounds how far a signed Date header may be from the
// receiver's clock.
const maxClockSkew = time.Hour

// checkDate rejects requests whose Date header is missing or outside
// maxClockSkew of now.
func checkDate(req *http.Request, now time.Time) error {
	raw := req.Header.Get("Date")
	if raw == "" {
		return errors.New("missing date header")
	}
	date, err := http.ParseTime(raw)
	if err != nil {
		return fmt.Errorf("invalid date header: %w", err)
	}
	if skew := now.Sub(date); skew > maxClockSkew || skew < -maxClockSkew {
		return fmt.Errorf("date header %s is outside the accepted window", raw)
	}
	return nil
}

// Digest is the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// verifyDigest checks the signed Digest header against the received body.
func verifyDigest(req *http.Request, body []byte) error {
	header := req.Header.Get("Digest")
	if header == "" {
		return errors.New("missing digest header")
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(header, ",") {
		algo, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		if !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if value != want {
			return errors.New("digest mismatch")
		}
		return nil
	}
	return errors.New("no SHA-256 digest")
}

func decodePEM(pemString string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	return block.Bytes, nil
}

// ParsePrivateKey reads a PKCS8 (or legacy PKCS1) RSA private key.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	der, err := decodePEM(pemString)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return rsaKey, nil
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

// ParsePublicKey reads an SPKI (or legacy PKCS1) RSA public key.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	der, err := decodePEM(pemString)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	}

	pubKey, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pubKey, nil
}
