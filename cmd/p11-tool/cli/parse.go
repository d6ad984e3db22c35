package cli

// ParseCmd prints the parsed key address
type ParseCmd struct {
	URI string `kong:"arg" required:"" help:"key address: pkcs11://[module[:slot]/]keyname[?pin=<spec>]"`
}

type addressInfo struct {
	URI        string `json:"uri"`
	ModulePath string `json:"module_path"`
	Slot       uint   `json:"slot"`
	KeyName    string `json:"key_name"`
	PinSpec    string `json:"pin_spec"`
}

// Run the command
func (a *ParseCmd) Run(ctx *Cli) error {
	f, err := ctx.Factory()
	if err != nil {
		return err
	}

	addr, err := f.Parse(a.URI)
	if err != nil {
		return err
	}

	return ctx.WriteJSON(addressInfo{
		URI:        addr.String(),
		ModulePath: addr.ModulePath,
		Slot:       addr.Slot,
		KeyName:    addr.KeyName,
		PinSpec:    addr.RedactedPinSpec(),
	})
}
