// Package pk11uri parses addresses of token-resident signing keys.
//
// The address grammar is
//
//	pkcs11://[module[:slot]/]keyname[?pin=<spec>[&name=value...]]
//
// where module is the path of the PKCS#11 library, slot is a decimal slot
// index (0 by default) and keyname is the label of the private key object.
// When module is omitted, it is taken from the PYKCS11LIB environment variable.
//
// The pin query option is either a literal PIN, `env:NAME` to read the PIN
// from the NAME environment variable, or `file:PATH` to read it from a file.
// It defaults to `env:PYKCS11PIN`.
package pk11uri
