// Package crypto11 locates signing keys on PKCS#11 cryptographic devices
// such as Hardware Security Modules (HSMs), smart cards and software tokens.
//
// The package provides:
//   - Module, the capability interface over a loaded PKCS#11 library,
//     implemented on top of github.com/miekg/pkcs11
//   - Registry, the cache of loaded modules keyed by library path
//   - Session, an optionally authenticated session on a slot
//   - FindKey, lookup of an RSA private key by label together with
//     the certificate that shares its CKA_ID
//
// Private key material never leaves the token: signatures are computed
// by the device with the mechanism chosen by the caller.
package crypto11
