package crypto11

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockedCtx records the calls made by the module adapter
type mockedCtx struct {
	loginErr    error
	logoutErr   error
	findErr     error
	finalErr    error
	signInitErr error

	found      []pkcs11.ObjectHandle
	attrs      map[uint][]byte
	calls      []string
	templates  [][]*pkcs11.Attribute
	mechanisms []*pkcs11.Mechanism
}

func (m *mockedCtx) OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error) {
	m.calls = append(m.calls, "OpenSession")
	if slotID > 10 {
		return 0, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return pkcs11.SessionHandle(slotID + 100), nil
}

func (m *mockedCtx) CloseSession(sh pkcs11.SessionHandle) error {
	m.calls = append(m.calls, "CloseSession")
	return nil
}

func (m *mockedCtx) Login(sh pkcs11.SessionHandle, userType uint, pin string) error {
	m.calls = append(m.calls, "Login")
	return m.loginErr
}

func (m *mockedCtx) Logout(sh pkcs11.SessionHandle) error {
	m.calls = append(m.calls, "Logout")
	return m.logoutErr
}

func (m *mockedCtx) FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error {
	m.calls = append(m.calls, "FindObjectsInit")
	m.templates = append(m.templates, temp)
	return nil
}

func (m *mockedCtx) FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error) {
	m.calls = append(m.calls, "FindObjects")
	if m.findErr != nil {
		return nil, false, m.findErr
	}
	if len(m.found) > max {
		return m.found[:max], true, nil
	}
	return m.found, false, nil
}

func (m *mockedCtx) FindObjectsFinal(sh pkcs11.SessionHandle) error {
	m.calls = append(m.calls, "FindObjectsFinal")
	return m.finalErr
}

// GetAttributeValue fails the request with any attribute it does not have
func (m *mockedCtx) GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	m.calls = append(m.calls, "GetAttributeValue")
	res := make([]*pkcs11.Attribute, len(a))
	for i, at := range a {
		switch at.Type {
		case pkcs11.CKA_PRIVATE_EXPONENT, pkcs11.CKA_PRIME_1:
			return nil, pkcs11.Error(pkcs11.CKR_ATTRIBUTE_SENSITIVE)
		}
		v, ok := m.attrs[at.Type]
		if !ok {
			return nil, pkcs11.Error(pkcs11.CKR_ATTRIBUTE_TYPE_INVALID)
		}
		res[i] = pkcs11.NewAttribute(at.Type, v)
	}
	return res, nil
}

func (m *mockedCtx) SignInit(sh pkcs11.SessionHandle, mechs []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error {
	m.calls = append(m.calls, "SignInit")
	m.mechanisms = append(m.mechanisms, mechs...)
	return m.signInitErr
}

func (m *mockedCtx) Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error) {
	m.calls = append(m.calls, "Sign")
	return append([]byte("sig:"), message...), nil
}

func TestModule_Session(t *testing.T) {
	c := &mockedCtx{}
	m := newModule(c)

	sh, err := m.OpenSession(1)
	require.NoError(t, err)
	assert.Equal(t, SessionHandle(101), sh)

	_, err = m.OpenSession(11)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenSession on slot 11")

	require.NoError(t, m.Login(sh, "1234"))

	c.loginErr = pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)
	err = m.Login(sh, "1234")
	assert.True(t, errors.Is(err, ErrAlreadyLoggedIn))

	c.loginErr = pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	err = m.Login(sh, "1234")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyLoggedIn))
	assert.Contains(t, err.Error(), "CKR_PIN_INCORRECT")

	c.logoutErr = pkcs11.Error(pkcs11.CKR_USER_NOT_LOGGED_IN)
	assert.Error(t, m.Logout(sh))
	assert.NoError(t, m.CloseSession(sh))
}

func TestModule_FindObjects(t *testing.T) {
	c := &mockedCtx{
		found: []pkcs11.ObjectHandle{7, 8, 9},
	}
	m := newModule(c)

	list, err := m.FindObjects(1, []Attribute{
		NewAttribute(AttrLabel, "key"),
		NewAttribute(AttrClass, ClassPrivateKey),
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []ObjectHandle{7}, list)
	assert.Equal(t, []string{"FindObjectsInit", "FindObjects", "FindObjectsFinal"}, c.calls)

	require.Len(t, c.templates, 1)
	tmpl := c.templates[0]
	require.Len(t, tmpl, 2)
	assert.Equal(t, uint(pkcs11.CKA_LABEL), tmpl[0].Type)
	assert.Equal(t, []byte("key"), tmpl[0].Value)
	assert.Equal(t, uint(pkcs11.CKA_CLASS), tmpl[1].Type)
	assert.Equal(t, pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY).Value, tmpl[1].Value)

	// Final is called when search fails
	c.calls = nil
	c.findErr = pkcs11.Error(pkcs11.CKR_DEVICE_ERROR)
	_, err = m.FindObjects(1, nil, 1)
	require.Error(t, err)
	assert.Equal(t, []string{"FindObjectsInit", "FindObjects", "FindObjectsFinal"}, c.calls)

	c.findErr = nil
	c.finalErr = pkcs11.Error(pkcs11.CKR_DEVICE_ERROR)
	_, err = m.FindObjects(1, nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FindObjectsFinal")
}

func TestModule_GetAttributes(t *testing.T) {
	c := &mockedCtx{
		attrs: map[uint][]byte{
			pkcs11.CKA_LABEL: []byte("key"),
			pkcs11.CKA_ID:    {1, 2, 3},
		},
	}
	m := newModule(c)

	res, err := m.GetAttributes(1, 7, []AttributeType{AttrLabel, AttrID})
	require.NoError(t, err)
	assert.Equal(t, map[AttributeType][]byte{
		AttrLabel: []byte("key"),
		AttrID:    {1, 2, 3},
	}, res)
	assert.Equal(t, []string{"GetAttributeValue"}, c.calls)

	// missing and sensitive attributes are skipped one by one
	c.calls = nil
	res, err = m.GetAttributes(1, 7, []AttributeType{AttrLabel, AttrValue, AttrPrivateExponent, AttrID})
	require.NoError(t, err)
	assert.Equal(t, map[AttributeType][]byte{
		AttrLabel: []byte("key"),
		AttrID:    {1, 2, 3},
	}, res)
	assert.Len(t, c.calls, 5)
}

func TestModule_Sign(t *testing.T) {
	c := &mockedCtx{}
	m := newModule(c)

	sig, err := m.Sign(1, 7, MechanismRSAPKCS, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []byte("sig:data"), sig)
	require.Len(t, c.mechanisms, 1)
	assert.Equal(t, uint(pkcs11.CKM_RSA_PKCS), c.mechanisms[0].Mechanism)

	c.signInitErr = pkcs11.Error(pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED)
	_, err = m.Sign(1, 7, MechanismRSAPKCS, []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SignInit with CKM_RSA_PKCS")
}

func TestLoadModule_NotFound(t *testing.T) {
	_, err := LoadModule("/not/found/libpkcs11.so")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleLoad))
}
