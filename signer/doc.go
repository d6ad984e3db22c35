// Package signer creates single-use signers for private keys on PKCS#11 tokens.
//
// A signer is created from a `pkcs11://` address:
//
//	s, certPEM, err := signer.MakeSigner("pkcs11:///usr/lib/softhsm/libsofthsm2.so:0/mykey?pin=env:HSM_PIN", crypto11.MechanismRSAPKCS)
//	if err != nil {
//		return err
//	}
//	sig, err := s.Sign(digestInfo)
//
// The signer owns the session opened for it: Sign logs out and closes the session,
// a second call returns ErrSessionClosed. Close releases a signer that is not used.
package signer
