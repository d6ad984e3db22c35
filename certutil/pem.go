package certutil

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	pemLineLength  = 64
	pemCertBegin   = "-----BEGIN CERTIFICATE-----"
	pemCertEnd     = "-----END CERTIFICATE-----"
	certTimeFormat = "Jan _2 15:04:05 2006 GMT"
)

// DERToPEM returns DER encoded certificate wrapped in PEM envelope,
// the base64 body is wrapped at 64 characters per line.
// The result has no trailing new line.
func DERToPEM(der []byte) string {
	body := base64.StdEncoding.EncodeToString(der)

	var b strings.Builder
	b.Grow(len(body) + len(body)/pemLineLength + len(pemCertBegin) + len(pemCertEnd) + 4)

	b.WriteString(pemCertBegin)
	b.WriteByte('\n')
	for len(body) > pemLineLength {
		b.WriteString(body[:pemLineLength])
		b.WriteByte('\n')
		body = body[pemLineLength:]
	}
	b.WriteString(body)
	b.WriteByte('\n')
	b.WriteString(pemCertEnd)
	return b.String()
}

// PEMToDER returns DER bytes of the first CERTIFICATE block,
// CRLF line endings are accepted
func PEMToDER(certPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
		return nil, errors.Errorf("unable to parse PEM")
	}
	return block.Bytes, nil
}

// ParseFromPEM returns Certificate parsed from PEM
func ParseFromPEM(bytes []byte) (*x509.Certificate, error) {
	der, err := PEMToDER(bytes)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to parse certificate")
	}

	return cert, nil
}
