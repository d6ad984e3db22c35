package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/effective-security/pk11signer/cmd/p11-tool/cli"
	"github.com/effective-security/pk11signer/internal/version"
	"github.com/effective-security/x/ctl"
)

type app struct {
	cli.Cli

	Parse cli.ParseCmd `cmd:"" help:"print parsed key address"`
	Keys  cli.KeysCmd  `cmd:"" help:"list private keys on a slot"`
	Cert  cli.CertCmd  `cmd:"" help:"print certificate of the key"`
	Sign  cli.SignCmd  `cmd:"" help:"sign data with the key"`
}

func main() {
	realMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

func realMain(args []string, out io.Writer, errout io.Writer, exit func(int)) {
	cl := app{
		Cli: cli.Cli{},
	}
	cl.Cli.WithErrWriter(errout).
		WithWriter(out)

	parser, err := kong.New(&cl,
		kong.Name("p11-tool"),
		kong.Description("CLI tool to sign with keys on PKCS#11 tokens"),
		kong.Writers(out, errout),
		kong.Exit(exit),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.Current().String(),
		})
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args[1:])
	parser.FatalIfErrorf(err)

	if ctx != nil {
		if cl.Debug {
			// in DEBUG more print command line
			_, _ = fmt.Fprintf(ctx.Stderr, "#\n# %s\n#\n", strings.Join(args, " "))
		}
		err = ctx.Run(&cl.Cli)
		ctx.FatalIfErrorf(err)
	}
}
