package crypto11_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/certutil"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/effective-security/pk11signer/crypto11/p11test"
	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, token *p11test.Token) *crypto11.Session {
	s, err := crypto11.OpenSession(token, 0, "1234", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestFindKey(t *testing.T) {
	token := p11test.New()
	id := []byte{0xA1, 0xB2}

	// decoy objects with the same label
	token.AddObject(&p11test.Object{Attributes: map[crypto11.AttributeType][]byte{
		crypto11.AttrClass:   crypto11.NewAttribute(crypto11.AttrClass, crypto11.ClassPublicKey).Value,
		crypto11.AttrKeyType: crypto11.NewAttribute(crypto11.AttrKeyType, crypto11.KeyTypeRSA).Value,
		crypto11.AttrLabel:   []byte("signer"),
		crypto11.AttrID:      id,
	}})
	token.AddObject(&p11test.Object{Attributes: map[crypto11.AttributeType][]byte{
		crypto11.AttrClass:   crypto11.NewAttribute(crypto11.AttrClass, crypto11.ClassPrivateKey).Value,
		crypto11.AttrKeyType: crypto11.NewAttribute(crypto11.AttrKeyType, crypto11.KeyTypeEC).Value,
		crypto11.AttrLabel:   []byte("signer"),
		crypto11.AttrID:      []byte{0xEC},
	}})

	key, err := token.AddRSAKey("signer", id)
	require.NoError(t, err)
	der, err := token.AddCertificate("signer", id, key)
	require.NoError(t, err)

	s := openSession(t, token)

	k, certPEM, err := crypto11.FindKey(s, "signer")
	require.NoError(t, err)
	assert.Equal(t, crypto11.ObjectHandle(3), k.Handle)
	assert.Equal(t, "signer", k.Label)
	assert.Equal(t, id, k.ID)
	assert.Equal(t, key.N.Bytes(), k.Attributes[crypto11.AttrModulus])

	// sensitive components are never requested
	assert.NotContains(t, k.Attributes, crypto11.AttrPrivateExponent)
	assert.NotContains(t, k.Attributes, crypto11.AttrPrime1)

	assert.Equal(t, certutil.DERToPEM(der), certPEM)
	parsed, err := certutil.PEMToDER([]byte(certPEM))
	require.NoError(t, err)
	assert.Equal(t, der, parsed)
}

func TestFindKey_FirstMatch(t *testing.T) {
	token := p11test.New()
	_, err := token.AddRSAKey("dup", []byte{1})
	require.NoError(t, err)
	_, err = token.AddRSAKey("dup", []byte{2})
	require.NoError(t, err)

	s := openSession(t, token)
	k, certPEM, err := crypto11.FindKey(s, "dup")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, k.ID)
	assert.Empty(t, certPEM)
}

func TestFindKey_NotFound(t *testing.T) {
	token := p11test.New()
	_, err := token.AddRSAKey("other", []byte{1})
	require.NoError(t, err)

	s := openSession(t, token)
	_, _, err = crypto11.FindKey(s, "signer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crypto11.ErrObjectNotFound))
}

func TestFindKey_NoCertificate(t *testing.T) {
	token := p11test.New()
	_, err := token.AddRSAKey("signer", []byte{1})
	require.NoError(t, err)
	other, err := token.AddRSAKey("other", []byte{2})
	require.NoError(t, err)
	_, err = token.AddCertificate("other", []byte{2}, other)
	require.NoError(t, err)

	s := openSession(t, token)
	k, certPEM, err := crypto11.FindKey(s, "signer")
	require.NoError(t, err)
	assert.NotNil(t, k)
	assert.Empty(t, certPEM)

	// key without CKA_ID
	_, err = token.AddRSAKey("noid", nil)
	require.NoError(t, err)
	k, certPEM, err = crypto11.FindKey(s, "noid")
	require.NoError(t, err)
	assert.Empty(t, k.ID)
	assert.Empty(t, certPEM)
}

func TestFindKey_Errors(t *testing.T) {
	token := p11test.New()
	_, err := token.AddRSAKey("signer", []byte{1})
	require.NoError(t, err)
	s := openSession(t, token)

	token.Errors["GetAttributes"] = pkcs11.Error(pkcs11.CKR_DEVICE_ERROR)
	_, _, err = crypto11.FindKey(s, "signer")
	require.Error(t, err)
	assert.False(t, errors.Is(err, crypto11.ErrObjectNotFound))
	assert.Contains(t, err.Error(), `unable to read attributes of "signer" key`)

	delete(token.Errors, "GetAttributes")
	token.Errors["FindObjects"] = pkcs11.Error(pkcs11.CKR_DEVICE_ERROR)
	_, _, err = crypto11.FindKey(s, "signer")
	require.Error(t, err)
	assert.False(t, errors.Is(err, crypto11.ErrObjectNotFound))
	assert.Contains(t, err.Error(), "unable to find object")
}

func TestListKeys(t *testing.T) {
	token := p11test.New()
	_, err := token.AddRSAKey("app_signer", []byte{0x0A})
	require.NoError(t, err)
	_, err = token.AddRSAKey("app_other", []byte{0x0B})
	require.NoError(t, err)
	k, err := token.AddRSAKey("ops", []byte{0x0C})
	require.NoError(t, err)
	_, err = token.AddCertificate("ops", []byte{0x0C}, k)
	require.NoError(t, err)

	s := openSession(t, token)

	list, err := crypto11.ListKeys(s, "")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, crypto11.KeyInfo{
		ID:      "0a",
		Label:   "app_signer",
		Type:    "CKK_RSA",
		Class:   "CKO_PRIVATE_KEY",
		Bits:    1024,
		CanSign: true,
	}, list[0])

	list, err = crypto11.ListKeys(s, "app_")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "app_other", list[1].Label)

	list, err = crypto11.ListKeys(s, "none")
	require.NoError(t, err)
	assert.Empty(t, list)
}
