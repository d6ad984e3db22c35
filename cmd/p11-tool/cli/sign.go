package cli

import (
	"encoding/base64"
	"fmt"
)

// SignCmd signs data with the key
type SignCmd struct {
	URI       string `kong:"arg" required:"" help:"key address: pkcs11://[module[:slot]/]keyname[?pin=<spec>]"`
	In        string `required:"" help:"file to sign, - for stdin; for CKM_RSA_PKCS the file must contain DER encoded DigestInfo"`
	Out       string `help:"optional file name to save the raw signature, otherwise base64 encoded signature is printed"`
	Mechanism string `help:"signing mechanism, CKM_RSA_PKCS by default"`
	CertOut   string `help:"optional file name to save the certificate of the key"`
}

// Run the command
func (a *SignCmd) Run(ctx *Cli) error {
	mech, err := ctx.Mechanism(a.Mechanism)
	if err != nil {
		return err
	}

	data, err := ctx.ReadFile(a.In)
	if err != nil {
		return err
	}

	f, err := ctx.Factory()
	if err != nil {
		return err
	}

	s, certPEM, err := f.MakeSigner(a.URI, mech)
	if err != nil {
		return err
	}
	defer closeSigner(s)

	if a.CertOut != "" && certPEM != "" {
		if err = writeFile(a.CertOut, []byte(certPEM+"\n")); err != nil {
			return err
		}
	}

	sig, err := s.Sign(data)
	if err != nil {
		return err
	}

	if a.Out != "" {
		return writeFile(a.Out, sig)
	}
	fmt.Fprintln(ctx.Writer(), base64.StdEncoding.EncodeToString(sig))
	return nil
}
