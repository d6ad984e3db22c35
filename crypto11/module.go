package crypto11

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/metricskey"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/pk11signer", "crypto11")

// ProviderName is used as metrics tag
const ProviderName = "pkcs11"

var (
	// ErrModuleLoad is returned when PKCS#11 module can not be loaded
	ErrModuleLoad = errors.New("failed to load pkcs11 module")
	// ErrAuthentication is returned when the token rejects the PIN
	ErrAuthentication = errors.New("pkcs11 login failed")
	// ErrAlreadyLoggedIn is returned by Module.Login when the token
	// has the user logged in already
	ErrAlreadyLoggedIn = errors.New("pkcs11 user already logged in")
	// ErrObjectNotFound is returned when no object matches the search template
	ErrObjectNotFound = errors.New("pkcs11 object not found")
)

// SessionHandle is an opaque reference to a session
type SessionHandle uint

// ObjectHandle is an opaque reference to a token object
type ObjectHandle uint

// Module provides the operations on a loaded PKCS#11 module
type Module interface {
	// OpenSession opens a serial read-only session on the slot
	OpenSession(slot uint) (SessionHandle, error)
	// CloseSession closes the session
	CloseSession(sh SessionHandle) error
	// Login logs the user in, returns ErrAlreadyLoggedIn
	// if the user is logged in already
	Login(sh SessionHandle, pin string) error
	// Logout logs the user out
	Logout(sh SessionHandle) error
	// FindObjects returns up to max objects matching the template,
	// in the order of token enumeration
	FindObjects(sh SessionHandle, template []Attribute, max int) ([]ObjectHandle, error)
	// GetAttributes returns the values of the requested attributes,
	// attributes that the object does not have are omitted
	GetAttributes(sh SessionHandle, obj ObjectHandle, types []AttributeType) (map[AttributeType][]byte, error)
	// Sign returns the signature of data produced by the object
	Sign(sh SessionHandle, obj ObjectHandle, mech Mechanism, data []byte) ([]byte, error)
}

// Loader loads the module by path
type Loader func(path string) (Module, error)

// ctx is implemented by *pkcs11.Ctx
type ctx interface {
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
}

// LoadModule loads and initializes PKCS#11 library
func LoadModule(path string) (Module, error) {
	defer metricskey.PerfTokenOperation.MeasureSince(time.Now(), ProviderName, "load")

	p := pkcs11.New(path)
	if p == nil {
		return nil, errors.Wrapf(ErrModuleLoad, "unable to load %q", path)
	}

	if err := p.Initialize(); err != nil && !isTokenError(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		p.Destroy()
		return nil, errors.Wrapf(ErrModuleLoad, "unable to initialize %q: %v", path, err)
	}

	logger.KV(xlog.INFO, "module", path)
	return newModule(p), nil
}

type module struct {
	ctx ctx
}

func newModule(c ctx) *module {
	return &module{ctx: c}
}

func (m *module) OpenSession(slot uint) (SessionHandle, error) {
	sh, err := m.ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return 0, errors.WithMessagef(err, "OpenSession on slot %d", slot)
	}
	return SessionHandle(sh), nil
}

func (m *module) CloseSession(sh SessionHandle) error {
	if err := m.ctx.CloseSession(pkcs11.SessionHandle(sh)); err != nil {
		return errors.WithMessage(err, "CloseSession")
	}
	return nil
}

func (m *module) Login(sh SessionHandle, pin string) error {
	err := m.ctx.Login(pkcs11.SessionHandle(sh), pkcs11.CKU_USER, pin)
	if err != nil {
		if isTokenError(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			return ErrAlreadyLoggedIn
		}
		return errors.WithMessage(err, "Login")
	}
	return nil
}

func (m *module) Logout(sh SessionHandle) error {
	if err := m.ctx.Logout(pkcs11.SessionHandle(sh)); err != nil {
		return errors.WithMessage(err, "Logout")
	}
	return nil
}

func (m *module) FindObjects(sh SessionHandle, template []Attribute, max int) ([]ObjectHandle, error) {
	h := pkcs11.SessionHandle(sh)
	if err := m.ctx.FindObjectsInit(h, toNative(template)); err != nil {
		return nil, errors.WithMessage(err, "FindObjectsInit")
	}

	handles, _, err := m.ctx.FindObjects(h, max)
	if ferr := m.ctx.FindObjectsFinal(h); ferr != nil {
		if err == nil {
			return nil, errors.WithMessage(ferr, "FindObjectsFinal")
		}
		logger.KV(xlog.WARNING, "reason", "FindObjectsFinal", "err", ferr.Error())
	}
	if err != nil {
		return nil, errors.WithMessage(err, "FindObjects")
	}

	list := make([]ObjectHandle, len(handles))
	for i, oh := range handles {
		list[i] = ObjectHandle(oh)
	}
	return list, nil
}

func (m *module) GetAttributes(sh SessionHandle, obj ObjectHandle, types []AttributeType) (map[AttributeType][]byte, error) {
	h := pkcs11.SessionHandle(sh)
	oh := pkcs11.ObjectHandle(obj)

	req := make([]*pkcs11.Attribute, len(types))
	for i, t := range types {
		req[i] = pkcs11.NewAttribute(t.Code(), nil)
	}

	res := make(map[AttributeType][]byte, len(types))

	attrs, err := m.ctx.GetAttributeValue(h, oh, req)
	if err == nil {
		for i, a := range attrs {
			res[types[i]] = a.Value
		}
		return res, nil
	}
	if !isTokenError(err, pkcs11.CKR_ATTRIBUTE_TYPE_INVALID) && !isTokenError(err, pkcs11.CKR_ATTRIBUTE_SENSITIVE) {
		return nil, errors.WithMessage(err, "GetAttributeValue")
	}

	// the token rejects the whole request if one attribute is not available,
	// read them one by one
	for _, t := range types {
		attrs, err := m.ctx.GetAttributeValue(h, oh, []*pkcs11.Attribute{pkcs11.NewAttribute(t.Code(), nil)})
		if err != nil {
			logger.KV(xlog.TRACE, "reason", "skip_attribute", "type", t.String(), "err", err.Error())
			continue
		}
		res[t] = attrs[0].Value
	}
	return res, nil
}

func (m *module) Sign(sh SessionHandle, obj ObjectHandle, mech Mechanism, data []byte) ([]byte, error) {
	h := pkcs11.SessionHandle(sh)
	mechs := []*pkcs11.Mechanism{pkcs11.NewMechanism(mech.Type, mech.Parameter)}
	if err := m.ctx.SignInit(h, mechs, pkcs11.ObjectHandle(obj)); err != nil {
		return nil, errors.WithMessagef(err, "SignInit with %s", mech)
	}
	sig, err := m.ctx.Sign(h, data)
	if err != nil {
		return nil, errors.WithMessage(err, "Sign")
	}
	return sig, nil
}

func toNative(template []Attribute) []*pkcs11.Attribute {
	list := make([]*pkcs11.Attribute, len(template))
	for i, a := range template {
		list[i] = &pkcs11.Attribute{
			Type:  a.Type.Code(),
			Value: a.Value,
		}
	}
	return list
}

func isTokenError(err error, rv uint) bool {
	var perr pkcs11.Error
	return errors.As(err, &perr) && uint(perr) == rv
}
