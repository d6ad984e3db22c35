package certutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// CertInfo provides information about the certificate found on a token
type CertInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
	KeyType   string `json:"key_type"`
	KeySize   int    `json:"key_size"`
}

// NewCertInfo returns *CertInfo
func NewCertInfo(crt *x509.Certificate) (*CertInfo, error) {
	ci := &CertInfo{
		Subject:   crt.Subject.String(),
		Issuer:    crt.Issuer.String(),
		Serial:    hex.EncodeToString(crt.SerialNumber.Bytes()),
		NotBefore: crt.NotBefore.UTC().Format(certTimeFormat),
		NotAfter:  crt.NotAfter.UTC().Format(certTimeFormat),
	}

	var err error
	ci.KeyType, ci.KeySize, err = publicKeyInfo(crt.PublicKey)
	if err != nil {
		return nil, err
	}
	return ci, nil
}

func publicKeyInfo(pub crypto.PublicKey) (string, int, error) {
	switch typ := pub.(type) {
	case *rsa.PublicKey:
		return "RSA", typ.N.BitLen(), nil
	case *ecdsa.PublicKey:
		return "ECDSA", typ.Curve.Params().BitSize, nil
	default:
		return "", 0, errors.Errorf("key not supported: %T", typ)
	}
}
