package crypto11

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/metricskey"
)

const maxListObjects = 1024

// KeyInfo describes a private key on the token
type KeyInfo struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Class   string `json:"class"`
	Bits    uint   `json:"bits,omitempty"`
	CanSign bool   `json:"can_sign"`
}

// ListKeys returns private keys on the session slot,
// optionally filtered by label prefix
func ListKeys(s *Session, prefix string) ([]KeyInfo, error) {
	defer metricskey.PerfTokenOperation.MeasureSince(time.Now(), ProviderName, "list_keys")

	keys, err := s.module.FindObjects(s.handle, []Attribute{
		NewAttribute(AttrClass, ClassPrivateKey),
	}, maxListObjects)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to list keys on slot %d", s.slot)
	}

	res := make([]KeyInfo, 0, len(keys))
	for _, obj := range keys {
		attrs, err := s.module.GetAttributes(s.handle, obj, []AttributeType{
			AttrID,
			AttrLabel,
			AttrKeyType,
			AttrClass,
			AttrSign,
			AttrModulusBits,
			AttrModulus,
		})
		if err != nil {
			return nil, errors.WithMessage(err, "GetAttributeValue on key")
		}

		keyLabel := string(attrs[AttrLabel])
		if prefix != "" && !strings.HasPrefix(keyLabel, prefix) {
			continue
		}

		bits := BytesToUlong(attrs[AttrModulusBits])
		if bits == 0 {
			bits = uint(len(attrs[AttrModulus]) * 8)
		}

		res = append(res, KeyInfo{
			ID:      FormatID(attrs[AttrID]),
			Label:   keyLabel,
			Type:    KeyType(BytesToUlong(attrs[AttrKeyType])).String(),
			Class:   ObjectClass(BytesToUlong(attrs[AttrClass])).String(),
			Bits:    bits,
			CanSign: BytesToBool(attrs[AttrSign]),
		})
	}

	return res, nil
}
