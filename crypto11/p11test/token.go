// Package p11test provides in-memory PKCS#11 token for unit tests.
package p11test

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/miekg/pkcs11"
)

// Object is a token object
type Object struct {
	Attributes map[crypto11.AttributeType][]byte
	// Key is used to produce signatures, if nil then Token.Signature is returned
	Key *rsa.PrivateKey
}

// Calls counts the calls made to the token
type Calls struct {
	OpenSession   int
	CloseSession  int
	Login         int
	Logout        int
	FindObjects   int
	GetAttributes int
	Sign          int
}

// Token implements crypto11.Module
type Token struct {
	lock sync.Mutex

	// Pin is the user PIN, empty value accepts any PIN
	Pin string
	// Slots lists valid slot numbers, nil means any slot
	Slots []uint
	// Signature is returned by Sign for objects without Key
	Signature []byte
	// AlreadyLoggedIn makes Login return crypto11.ErrAlreadyLoggedIn
	AlreadyLoggedIn bool

	// Errors injected by operation name: OpenSession, CloseSession,
	// Login, Logout, FindObjects, GetAttributes, Sign
	Errors map[string]error

	Calls Calls
	// SignedData lists data passed to Sign
	SignedData [][]byte
	// Mechanisms lists mechanisms passed to Sign
	Mechanisms []crypto11.Mechanism

	objects  []*Object
	sessions map[crypto11.SessionHandle]uint
	nextSH   crypto11.SessionHandle
}

// Ensure compiles
var _ crypto11.Module = (*Token)(nil)

// New returns empty token
func New() *Token {
	return &Token{
		Errors:   map[string]error{},
		sessions: map[crypto11.SessionHandle]uint{},
		nextSH:   1,
	}
}

// Loader returns crypto11.Loader that returns the token for any path,
// and counts the loads
func (t *Token) Loader(loads *int) crypto11.Loader {
	return func(path string) (crypto11.Module, error) {
		if loads != nil {
			*loads++
		}
		return t, nil
	}
}

// AddObject adds the object and returns its handle
func (t *Token) AddObject(o *Object) crypto11.ObjectHandle {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.objects = append(t.objects, o)
	return crypto11.ObjectHandle(len(t.objects))
}

// AddRSAKey adds RSA private key with the label and id,
// and returns the key
func (t *Token) AddRSAKey(label string, id []byte) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	t.AddObject(&Object{
		Key: key,
		Attributes: map[crypto11.AttributeType][]byte{
			crypto11.AttrClass:           ulong(uint(crypto11.ClassPrivateKey)),
			crypto11.AttrKeyType:         ulong(uint(crypto11.KeyTypeRSA)),
			crypto11.AttrLabel:           []byte(label),
			crypto11.AttrID:              id,
			crypto11.AttrSign:            {1},
			crypto11.AttrModulus:         key.N.Bytes(),
			crypto11.AttrPublicExponent:  big.NewInt(int64(key.E)).Bytes(),
			crypto11.AttrPrivateExponent: key.D.Bytes(),
			crypto11.AttrPrime1:          key.Primes[0].Bytes(),
			crypto11.AttrPrime2:          key.Primes[1].Bytes(),
		},
	})
	return key, nil
}

// AddCertificate adds self-signed certificate for the key,
// and returns DER bytes
func (t *Token) AddCertificate(label string, id []byte, key *rsa.PrivateKey) ([]byte, error) {
	der, err := SelfSignedCert(label, key)
	if err != nil {
		return nil, err
	}
	t.AddObject(&Object{
		Attributes: map[crypto11.AttributeType][]byte{
			crypto11.AttrClass: ulong(uint(crypto11.ClassCertificate)),
			crypto11.AttrLabel: []byte(label),
			crypto11.AttrID:    id,
			crypto11.AttrValue: der,
		},
	})
	return der, nil
}

// OpenSessions returns the number of sessions not closed yet
func (t *Token) OpenSessions() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.sessions)
}

// OpenSession implements crypto11.Module
func (t *Token) OpenSession(slot uint) (crypto11.SessionHandle, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.OpenSession++

	if err := t.Errors["OpenSession"]; err != nil {
		return 0, err
	}
	if t.Slots != nil && !slices.Contains(t.Slots, slot) {
		return 0, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}

	sh := t.nextSH
	t.nextSH++
	t.sessions[sh] = slot
	return sh, nil
}

// CloseSession implements crypto11.Module
func (t *Token) CloseSession(sh crypto11.SessionHandle) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.CloseSession++

	if err := t.Errors["CloseSession"]; err != nil {
		return err
	}
	if _, ok := t.sessions[sh]; !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	delete(t.sessions, sh)
	return nil
}

// Login implements crypto11.Module
func (t *Token) Login(sh crypto11.SessionHandle, pin string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.Login++

	if err := t.Errors["Login"]; err != nil {
		return err
	}
	if t.AlreadyLoggedIn {
		return crypto11.ErrAlreadyLoggedIn
	}
	if t.Pin != "" && t.Pin != pin {
		return pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	}
	return nil
}

// Logout implements crypto11.Module
func (t *Token) Logout(sh crypto11.SessionHandle) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.Logout++

	if err := t.Errors["Logout"]; err != nil {
		return err
	}
	return nil
}

// FindObjects implements crypto11.Module
func (t *Token) FindObjects(sh crypto11.SessionHandle, template []crypto11.Attribute, max int) ([]crypto11.ObjectHandle, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.FindObjects++

	if err := t.Errors["FindObjects"]; err != nil {
		return nil, err
	}
	if _, ok := t.sessions[sh]; !ok {
		return nil, pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}

	var list []crypto11.ObjectHandle
	for i, o := range t.objects {
		if len(list) >= max {
			break
		}
		if o.matches(template) {
			list = append(list, crypto11.ObjectHandle(i+1))
		}
	}
	return list, nil
}

// GetAttributes implements crypto11.Module,
// like a real token it rejects requests for sensitive attributes
func (t *Token) GetAttributes(sh crypto11.SessionHandle, obj crypto11.ObjectHandle, types []crypto11.AttributeType) (map[crypto11.AttributeType][]byte, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.GetAttributes++

	if err := t.Errors["GetAttributes"]; err != nil {
		return nil, err
	}
	o, err := t.object(obj)
	if err != nil {
		return nil, err
	}

	res := make(map[crypto11.AttributeType][]byte, len(types))
	for _, at := range types {
		if at.Sensitive() {
			return nil, pkcs11.Error(pkcs11.CKR_ATTRIBUTE_SENSITIVE)
		}
		if v, ok := o.Attributes[at]; ok {
			res[at] = v
		}
	}
	return res, nil
}

// Sign implements crypto11.Module
func (t *Token) Sign(sh crypto11.SessionHandle, obj crypto11.ObjectHandle, mech crypto11.Mechanism, data []byte) ([]byte, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Calls.Sign++

	if err := t.Errors["Sign"]; err != nil {
		return nil, err
	}
	if _, ok := t.sessions[sh]; !ok {
		return nil, pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	o, err := t.object(obj)
	if err != nil {
		return nil, err
	}

	t.SignedData = append(t.SignedData, append([]byte(nil), data...))
	t.Mechanisms = append(t.Mechanisms, mech)

	if o.Key == nil {
		return t.Signature, nil
	}
	if mech.Type != pkcs11.CKM_RSA_PKCS {
		return nil, pkcs11.Error(pkcs11.CKR_MECHANISM_INVALID)
	}
	// CKM_RSA_PKCS signs the data as is
	return rsa.SignPKCS1v15(nil, o.Key, crypto.Hash(0), data)
}

func (t *Token) object(obj crypto11.ObjectHandle) (*Object, error) {
	if obj == 0 || int(obj) > len(t.objects) {
		return nil, pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)
	}
	return t.objects[obj-1], nil
}

func (o *Object) matches(template []crypto11.Attribute) bool {
	for _, a := range template {
		v, ok := o.Attributes[a.Type]
		if !ok || !bytes.Equal(v, a.Value) {
			return false
		}
	}
	return true
}

// SelfSignedCert returns DER encoded self-signed certificate
func SelfSignedCert(cn string, key *rsa.PrivateKey) ([]byte, error) {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return der, nil
}

func ulong(v uint) []byte {
	return crypto11.NewAttribute(crypto11.AttrClass, v).Value
}
