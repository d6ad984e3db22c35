package crypto11

import (
	"fmt"

	"github.com/miekg/pkcs11"
)

// AttributeType identifies an object attribute
type AttributeType int

// Attribute types known to the resolver
const (
	AttrClass AttributeType = iota + 1
	AttrToken
	AttrPrivate
	AttrLabel
	AttrValue
	AttrCertificateType
	AttrKeyType
	AttrSubject
	AttrID
	AttrSensitive
	AttrSign
	AttrDecrypt
	AttrModulus
	AttrModulusBits
	AttrPublicExponent
	AttrExtractable
	AttrAlwaysSensitive
	AttrNeverExtractable

	// components below are never returned by a token for a private key
	AttrPrivateExponent
	AttrPrime1
	AttrPrime2
	AttrExponent1
	AttrExponent2
	AttrCoefficient
)

var attributeCodes = map[AttributeType]uint{
	AttrClass:            pkcs11.CKA_CLASS,
	AttrToken:            pkcs11.CKA_TOKEN,
	AttrPrivate:          pkcs11.CKA_PRIVATE,
	AttrLabel:            pkcs11.CKA_LABEL,
	AttrValue:            pkcs11.CKA_VALUE,
	AttrCertificateType:  pkcs11.CKA_CERTIFICATE_TYPE,
	AttrKeyType:          pkcs11.CKA_KEY_TYPE,
	AttrSubject:          pkcs11.CKA_SUBJECT,
	AttrID:               pkcs11.CKA_ID,
	AttrSensitive:        pkcs11.CKA_SENSITIVE,
	AttrSign:             pkcs11.CKA_SIGN,
	AttrDecrypt:          pkcs11.CKA_DECRYPT,
	AttrModulus:          pkcs11.CKA_MODULUS,
	AttrModulusBits:      pkcs11.CKA_MODULUS_BITS,
	AttrPublicExponent:   pkcs11.CKA_PUBLIC_EXPONENT,
	AttrExtractable:      pkcs11.CKA_EXTRACTABLE,
	AttrAlwaysSensitive:  pkcs11.CKA_ALWAYS_SENSITIVE,
	AttrNeverExtractable: pkcs11.CKA_NEVER_EXTRACTABLE,
	AttrPrivateExponent:  pkcs11.CKA_PRIVATE_EXPONENT,
	AttrPrime1:           pkcs11.CKA_PRIME_1,
	AttrPrime2:           pkcs11.CKA_PRIME_2,
	AttrExponent1:        pkcs11.CKA_EXPONENT_1,
	AttrExponent2:        pkcs11.CKA_EXPONENT_2,
	AttrCoefficient:      pkcs11.CKA_COEFFICIENT,
}

var attributeNames = map[AttributeType]string{
	AttrClass:            "CKA_CLASS",
	AttrToken:            "CKA_TOKEN",
	AttrPrivate:          "CKA_PRIVATE",
	AttrLabel:            "CKA_LABEL",
	AttrValue:            "CKA_VALUE",
	AttrCertificateType:  "CKA_CERTIFICATE_TYPE",
	AttrKeyType:          "CKA_KEY_TYPE",
	AttrSubject:          "CKA_SUBJECT",
	AttrID:               "CKA_ID",
	AttrSensitive:        "CKA_SENSITIVE",
	AttrSign:             "CKA_SIGN",
	AttrDecrypt:          "CKA_DECRYPT",
	AttrModulus:          "CKA_MODULUS",
	AttrModulusBits:      "CKA_MODULUS_BITS",
	AttrPublicExponent:   "CKA_PUBLIC_EXPONENT",
	AttrExtractable:      "CKA_EXTRACTABLE",
	AttrAlwaysSensitive:  "CKA_ALWAYS_SENSITIVE",
	AttrNeverExtractable: "CKA_NEVER_EXTRACTABLE",
	AttrPrivateExponent:  "CKA_PRIVATE_EXPONENT",
	AttrPrime1:           "CKA_PRIME_1",
	AttrPrime2:           "CKA_PRIME_2",
	AttrExponent1:        "CKA_EXPONENT_1",
	AttrExponent2:        "CKA_EXPONENT_2",
	AttrCoefficient:      "CKA_COEFFICIENT",
}

// Code returns the PKCS#11 CKA_ value
func (t AttributeType) Code() uint {
	return attributeCodes[t]
}

func (t AttributeType) String() string {
	if n, ok := attributeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

// Sensitive returns true for the attributes that a token refuses to read,
// a read request including any of them fails as a whole
func (t AttributeType) Sensitive() bool {
	return t >= AttrPrivateExponent && t <= AttrCoefficient
}

// ReadableAttributes returns all known attribute types,
// excluding the sensitive ones
func ReadableAttributes() []AttributeType {
	list := make([]AttributeType, 0, len(attributeCodes))
	for t := AttrClass; t < AttrPrivateExponent; t++ {
		list = append(list, t)
	}
	return list
}

// ObjectClass is CKA_CLASS value
type ObjectClass uint

// Object classes
const (
	ClassData        ObjectClass = pkcs11.CKO_DATA
	ClassCertificate ObjectClass = pkcs11.CKO_CERTIFICATE
	ClassPublicKey   ObjectClass = pkcs11.CKO_PUBLIC_KEY
	ClassPrivateKey  ObjectClass = pkcs11.CKO_PRIVATE_KEY
	ClassSecretKey   ObjectClass = pkcs11.CKO_SECRET_KEY
)

// ObjectClassNames provides names for object classes
var ObjectClassNames = map[ObjectClass]string{
	ClassData:        "CKO_DATA",
	ClassCertificate: "CKO_CERTIFICATE",
	ClassPublicKey:   "CKO_PUBLIC_KEY",
	ClassPrivateKey:  "CKO_PRIVATE_KEY",
	ClassSecretKey:   "CKO_SECRET_KEY",
}

func (c ObjectClass) String() string {
	if n, ok := ObjectClassNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CKO_0x%X", uint(c))
}

// KeyType is CKA_KEY_TYPE value
type KeyType uint

// Key types
const (
	KeyTypeRSA KeyType = pkcs11.CKK_RSA
	KeyTypeDSA KeyType = pkcs11.CKK_DSA
	KeyTypeEC  KeyType = pkcs11.CKK_EC
	KeyTypeAES KeyType = pkcs11.CKK_AES
)

// KeyTypeNames provides names for key types
var KeyTypeNames = map[KeyType]string{
	KeyTypeRSA: "CKK_RSA",
	KeyTypeDSA: "CKK_DSA",
	KeyTypeEC:  "CKK_EC",
	KeyTypeAES: "CKK_AES",
}

func (k KeyType) String() string {
	if n, ok := KeyTypeNames[k]; ok {
		return n
	}
	return fmt.Sprintf("CKK_0x%X", uint(k))
}

// Attribute is a search template entry
type Attribute struct {
	Type  AttributeType
	Value []byte
}

// NewAttribute returns template entry, the value is encoded the same way
// as the token expects it: uint as CK_ULONG, bool as CK_BBOOL, string and
// []byte as is
func NewAttribute(t AttributeType, value any) Attribute {
	switch v := value.(type) {
	case ObjectClass:
		value = uint(v)
	case KeyType:
		value = uint(v)
	}
	return Attribute{
		Type:  t,
		Value: pkcs11.NewAttribute(t.Code(), value).Value,
	}
}

func (a Attribute) String() string {
	return fmt.Sprintf("%s=%x", a.Type, a.Value)
}
