package cli

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/effective-security/pk11signer/pk11uri"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// KeysCmd prints the private keys on a slot
type KeysCmd struct {
	Module string `help:"path to PKCS#11 library, if not set then PYKCS11LIB or the token config is used"`
	Slot   int    `help:"slot number, if not set then the token config is used" default:"-1"`
	Pin    string `help:"PIN spec: env:NAME, file:PATH or the PIN itself"`
	Prefix string `help:"specifies key label prefix (optional)"`
	ID     string `help:"specifies key ID in hex (optional)"`
	JSON   bool   `help:"print the keys as JSON"`
}

// Run the command
func (a *KeysCmd) Run(ctx *Cli) error {
	cfg, err := ctx.TokenConfig()
	if err != nil {
		return err
	}

	var cfgPath, cfgPin string
	var cfgSlot uint
	if cfg != nil {
		cfgPath, cfgPin, cfgSlot = cfg.Path(), cfg.Pin(), cfg.Slot()
	}

	envPath, _ := ctx.LookupEnv(pk11uri.ModulePathEnv)
	path := values.StringsCoalesce(a.Module, envPath, cfgPath)
	if path == "" {
		return errors.Wrapf(pk11uri.ErrMissingModulePath, "use --module, %s or --cfg", pk11uri.ModulePathEnv)
	}
	var id string
	if a.ID != "" {
		b, err := crypto11.ParseID(a.ID)
		if err != nil {
			return errors.WithMessagef(err, "invalid key ID %q", a.ID)
		}
		id = crypto11.FormatID(b)
	}
	slot := values.Select(a.Slot >= 0, uint(a.Slot), cfgSlot)
	pin := values.StringsCoalesce(a.Pin, cfgPin, pk11uri.DefaultPinSpec)

	m, err := ctx.Registry().GetOrLoad(path)
	if err != nil {
		return err
	}

	s, err := crypto11.OpenSession(m, slot, pin, ctx.LookupEnv)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.KV(xlog.ERROR, "reason", "close_session", "slot", slot, "err", err.Error())
		}
	}()

	keys, err := crypto11.ListKeys(s, a.Prefix)
	if err != nil {
		return errors.WithMessagef(err, "failed to list keys on slot %d", slot)
	}
	if id != "" {
		keys = slices.DeleteFunc(keys, func(key crypto11.KeyInfo) bool {
			return key.ID != id
		})
	}

	if a.JSON {
		return ctx.WriteJSON(keys)
	}

	out := ctx.Writer()
	fmt.Fprintf(out, "Slot: %d\n", slot)
	if len(keys) == 0 {
		if a.Prefix != "" {
			fmt.Fprintf(out, "no keys found with prefix: %s\n", a.Prefix)
		}
		if id != "" {
			fmt.Fprintf(out, "no keys found with ID: %s\n", id)
		}
	}
	for i, key := range keys {
		fmt.Fprintf(out, "[%d]\n", i)
		fmt.Fprintf(out, "  Id:    %s\n", key.ID)
		if key.Label != "" {
			fmt.Fprintf(out, "  Label: %s\n", key.Label)
		}
		fmt.Fprintf(out, "  Type:  %s\n", key.Type)
		if key.Bits > 0 {
			fmt.Fprintf(out, "  Size:  %d\n", key.Bits)
		}
		fmt.Fprintf(out, "  Sign:  %t\n", key.CanSign)
	}
	return nil
}
