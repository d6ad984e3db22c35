package cli

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/config"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/effective-security/pk11signer/signer"
	"github.com/effective-security/pk11signer/x/ctl"
	xctl "github.com/effective-security/x/ctl"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/pk11signer", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Version  xctl.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`
	Cfg      string           `help:"Location of token config file" type:"path"`
	Debug    bool             `short:"D" help:"Enable debug mode"`
	LogLevel string           `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	registry  *crypto11.Registry
	lookupEnv crypto11.LookupEnvFunc
	tokenCfg  config.TokenConfig
	factory   *signer.Factory
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// WithRegistry allows to specify a custom module registry
func (c *Cli) WithRegistry(r *crypto11.Registry) *Cli {
	c.registry = r
	c.factory = nil
	return c
}

// WithLookupEnv allows to specify a custom environment
func (c *Cli) WithLookupEnv(fn crypto11.LookupEnvFunc) *Cli {
	c.lookupEnv = fn
	c.factory = nil
	return c
}

// AfterApply hook sets the log level
func (c *Cli) AfterApply(app *kong.Kong, vars kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		val := strings.TrimLeft(c.LogLevel, "=")
		l, err := xlog.ParseLevel(strings.ToUpper(val))
		if err != nil {
			return errors.WithStack(err)
		}
		xlog.SetGlobalLogLevel(l)
	}

	return nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) error {
	return ctl.WriteJSON(c.Writer(), value)
}

// ReadFile reads from stdin if the file is "-"
func (c *Cli) ReadFile(filename string) ([]byte, error) {
	if filename == "" {
		return nil, errors.New("empty file name")
	}
	if filename == "-" {
		b, err := io.ReadAll(c.Reader())
		return b, errors.WithStack(err)
	}
	b, err := os.ReadFile(filename)
	return b, errors.WithStack(err)
}

// LookupEnv returns the value of environment variable
func (c *Cli) LookupEnv(key string) (string, bool) {
	if c.lookupEnv != nil {
		return c.lookupEnv(key)
	}
	return os.LookupEnv(key)
}

// Registry returns the module registry
func (c *Cli) Registry() *crypto11.Registry {
	if c.registry == nil {
		c.registry = crypto11.DefaultRegistry
	}
	return c.registry
}

// TokenConfig returns the token configuration specified by --cfg,
// or nil if the flag is not provided
func (c *Cli) TokenConfig() (config.TokenConfig, error) {
	if c.tokenCfg != nil || c.Cfg == "" {
		return c.tokenCfg, nil
	}
	cfg, err := config.LoadTokenConfig(c.Cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to load token config")
	}
	logger.KV(xlog.DEBUG, "cfg", c.Cfg, "path", cfg.Path(), "slot", cfg.Slot())
	c.tokenCfg = cfg
	return cfg, nil
}

// Factory returns signer factory, configured with the token config defaults
func (c *Cli) Factory() (*signer.Factory, error) {
	if c.factory != nil {
		return c.factory, nil
	}

	cfg, err := c.TokenConfig()
	if err != nil {
		return nil, err
	}

	opts := []signer.Option{
		signer.WithRegistry(c.Registry()),
		signer.WithLookupEnv(c.LookupEnv),
	}
	if cfg != nil {
		opts = append(opts,
			signer.WithDefaultModulePath(cfg.Path()),
			signer.WithDefaultPin(cfg.Pin()),
			signer.WithDefaultSlot(cfg.Slot()),
		)
	}

	c.factory = signer.NewFactory(opts...)
	return c.factory, nil
}

// Mechanism returns the mechanism by name,
// the token config value and CKM_RSA_PKCS are used if the name is empty
func (c *Cli) Mechanism(name string) (crypto11.Mechanism, error) {
	cfg, err := c.TokenConfig()
	if err != nil {
		return crypto11.Mechanism{}, err
	}
	var cfgMech string
	if cfg != nil {
		cfgMech = cfg.Mechanism()
	}
	return crypto11.MechanismByName(values.StringsCoalesce(name, cfgMech, crypto11.MechanismRSAPKCS.String()))
}
