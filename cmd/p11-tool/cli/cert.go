package cli

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/certutil"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/effective-security/pk11signer/signer"
	"github.com/effective-security/xlog"
)

// CertCmd prints the certificate of the key
type CertCmd struct {
	URI  string `kong:"arg" required:"" help:"key address: pkcs11://[module[:slot]/]keyname[?pin=<spec>]"`
	Out  string `help:"optional file name to save the certificate"`
	Info bool   `help:"print the certificate info"`
}

// Run the command
func (a *CertCmd) Run(ctx *Cli) error {
	f, err := ctx.Factory()
	if err != nil {
		return err
	}

	s, certPEM, err := f.MakeSigner(a.URI, crypto11.MechanismRSAPKCS)
	if err != nil {
		return err
	}
	defer closeSigner(s)

	if certPEM == "" {
		return errors.Errorf("no certificate for %q key", s.KeyLabel())
	}

	if a.Info {
		crt, err := certutil.ParseFromPEM([]byte(certPEM))
		if err != nil {
			return err
		}
		info, err := certutil.NewCertInfo(crt)
		if err != nil {
			return err
		}
		return ctx.WriteJSON(info)
	}

	if a.Out != "" {
		return writeFile(a.Out, []byte(certPEM+"\n"))
	}
	fmt.Fprintln(ctx.Writer(), certPEM)
	return nil
}

func closeSigner(s *signer.Signer) {
	if err := s.Close(); err != nil {
		logger.KV(xlog.ERROR, "reason", "close_signer", "key", s.KeyLabel(), "err", err.Error())
	}
}

func writeFile(filename string, data []byte) error {
	err := os.WriteFile(filename, data, 0644)
	if err != nil {
		return errors.WithMessagef(err, "unable to write file: %s", filename)
	}
	return nil
}
