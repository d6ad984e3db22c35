package crypto11

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/certutil"
	"github.com/effective-security/pk11signer/metricskey"
	"github.com/effective-security/xlog"
)

// KeyObject is a private key found on the token
type KeyObject struct {
	Handle     ObjectHandle
	Label      string
	ID         []byte
	Attributes map[AttributeType][]byte
}

// FindKey returns the RSA private key with the label, and PEM encoded
// certificate with the same CKA_ID if the token has one.
// If more than one key has the label, the first one enumerated
// by the token is returned.
// Returns ErrObjectNotFound if the key does not exist.
func FindKey(s *Session, label string) (*KeyObject, string, error) {
	defer metricskey.PerfTokenOperation.MeasureSince(time.Now(), ProviderName, "find_key")

	keyHandle, err := findObject(s, []Attribute{
		NewAttribute(AttrLabel, label),
		NewAttribute(AttrClass, ClassPrivateKey),
		NewAttribute(AttrKeyType, KeyTypeRSA),
	})
	if err != nil {
		return nil, "", err
	}

	attrs, err := s.module.GetAttributes(s.handle, keyHandle, ReadableAttributes())
	if err != nil {
		return nil, "", errors.WithMessagef(err, "unable to read attributes of %q key", label)
	}

	key := &KeyObject{
		Handle:     keyHandle,
		Label:      label,
		ID:         attrs[AttrID],
		Attributes: attrs,
	}

	if len(key.ID) == 0 {
		logger.KV(xlog.DEBUG, "reason", "no_id", "label", label)
		return key, "", nil
	}

	certHandle, err := findObject(s, []Attribute{
		NewAttribute(AttrID, key.ID),
		NewAttribute(AttrClass, ClassCertificate),
	})
	if errors.Is(err, ErrObjectNotFound) {
		return key, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	certAttrs, err := s.module.GetAttributes(s.handle, certHandle, ReadableAttributes())
	if err != nil {
		return nil, "", errors.WithMessagef(err, "unable to read certificate for %q key", label)
	}
	der := certAttrs[AttrValue]
	if len(der) == 0 {
		logger.KV(xlog.WARNING, "reason", "empty_cert", "label", label, "id", key.ID)
		return key, "", nil
	}

	return key, certutil.DERToPEM(der), nil
}

func findObject(s *Session, template []Attribute) (ObjectHandle, error) {
	list, err := s.module.FindObjects(s.handle, template, 1)
	if err != nil {
		return 0, errors.WithMessagef(err, "unable to find object: %v", template)
	}
	if len(list) == 0 {
		return 0, errors.Wrapf(ErrObjectNotFound, "%v", template)
	}
	logger.KV(xlog.DEBUG, "found", list[0], "template", template)
	return list[0], nil
}
