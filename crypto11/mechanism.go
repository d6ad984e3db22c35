package crypto11

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/miekg/pkcs11"
)

// Mechanism specifies the signing algorithm, it is passed to the token as is
type Mechanism struct {
	Type      uint
	Parameter []byte
}

// MechanismRSAPKCS is RSA PKCS#1 v1.5 over the data supplied by the caller
var MechanismRSAPKCS = Mechanism{Type: pkcs11.CKM_RSA_PKCS}

var mechanismNames = map[string]uint{
	"CKM_RSA_PKCS":        pkcs11.CKM_RSA_PKCS,
	"CKM_SHA1_RSA_PKCS":   pkcs11.CKM_SHA1_RSA_PKCS,
	"CKM_SHA256_RSA_PKCS": pkcs11.CKM_SHA256_RSA_PKCS,
	"CKM_SHA384_RSA_PKCS": pkcs11.CKM_SHA384_RSA_PKCS,
	"CKM_SHA512_RSA_PKCS": pkcs11.CKM_SHA512_RSA_PKCS,
}

// MechanismByName returns mechanism for CKM_ name, the prefix is optional
func MechanismByName(name string) (Mechanism, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "CKM_") {
		n = "CKM_" + n
	}
	if t, ok := mechanismNames[n]; ok {
		return Mechanism{Type: t}, nil
	}
	return Mechanism{}, errors.Errorf("unsupported mechanism: %q", name)
}

// MechanismNames returns supported mechanism names
func MechanismNames() []string {
	list := make([]string, 0, len(mechanismNames))
	for n := range mechanismNames {
		list = append(list, n)
	}
	sort.Strings(list)
	return list
}

func (m Mechanism) String() string {
	for n, t := range mechanismNames {
		if t == m.Type {
			return n
		}
	}
	return fmt.Sprintf("CKM_0x%X", m.Type)
}
