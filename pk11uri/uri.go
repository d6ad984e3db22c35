package pk11uri

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// Scheme is the URI scheme of token key addresses
	Scheme = "pkcs11"

	// ModulePathEnv is the environment variable used when the address
	// does not specify the module path
	ModulePathEnv = "PYKCS11LIB"

	// DefaultPinSpec is used when the address has no `pin` option
	DefaultPinSpec = "env:PYKCS11PIN"

	// PinOption is the query option holding the PIN spec
	PinOption = "pin"
)

var (
	// ErrMalformedAddress is returned when the address does not follow the grammar
	ErrMalformedAddress = errors.New("malformed pkcs11 address")
	// ErrMissingModulePath is returned when the module path is not specified
	// neither in the address nor in the environment
	ErrMissingModulePath = errors.New("no pkcs11 module in address")
)

// Address specifies the location of a private key on a token
type Address struct {
	ModulePath string            `json:"module_path"`
	Slot       uint              `json:"slot"`
	KeyName    string            `json:"key_name"`
	Options    map[string]string `json:"options,omitempty"`

	// ExplicitSlot is set when the slot is present in the address
	ExplicitSlot bool `json:"-"`
}

// LookupEnvFunc returns the value of environment variable
type LookupEnvFunc func(key string) (string, bool)

type options struct {
	lookupEnv         LookupEnvFunc
	defaultModulePath string
}

// Option configures Parse
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithLookupEnv replaces os.LookupEnv, used to resolve the module path
func WithLookupEnv(fn LookupEnvFunc) Option {
	return optionFunc(func(o *options) {
		o.lookupEnv = fn
	})
}

// WithDefaultModulePath specifies the module path to use when neither
// the address nor the environment provide one
func WithDefaultModulePath(path string) Option {
	return optionFunc(func(o *options) {
		o.defaultModulePath = path
	})
}

// Parse returns Address parsed from uri
func Parse(uri string, opts ...Option) (*Address, error) {
	o := options{
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}

	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok || scheme != Scheme {
		return nil, errors.Wrapf(ErrMalformedAddress, "bad scheme in %q", uri)
	}
	rest, ok = strings.CutPrefix(rest, "//")
	if !ok {
		return nil, errors.Wrapf(ErrMalformedAddress,
			"missing keyname part in %q, expected %s://[module[:slot]/]keyname[?pin=<pin>]", uri, Scheme)
	}

	// the query starts at the first '?', so the values may contain '/'
	path, query, hasQuery := strings.Cut(rest, "?")

	a := &Address{
		Options: map[string]string{},
	}

	var module string
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		module = path[:idx]
		a.KeyName = path[idx+1:]
	} else {
		a.KeyName = path
	}
	if a.KeyName == "" {
		return nil, errors.Wrapf(ErrMalformedAddress, "missing keyname in %q", uri)
	}

	if hasQuery {
		for _, av := range strings.Split(query, "&") {
			name, val, found := strings.Cut(av, "=")
			if !found || name == "" || val == "" {
				return nil, errors.Wrapf(ErrMalformedAddress, "bad query string in %q", uri)
			}
			a.Options[name] = val
		}
	}

	if idx := strings.LastIndexByte(module, ':'); idx >= 0 {
		slot, err := strconv.ParseUint(module[idx+1:], 10, 0)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedAddress, "bad slot %q in %q", module[idx+1:], uri)
		}
		a.Slot = uint(slot)
		a.ExplicitSlot = true
		module = module[:idx]
	}

	if module == "" {
		module, _ = o.lookupEnv(ModulePathEnv)
	}
	if module == "" {
		module = o.defaultModulePath
	}
	if module == "" {
		return nil, errors.Wrapf(ErrMissingModulePath, "%q: set %s or specify module", uri, ModulePathEnv)
	}
	a.ModulePath = module

	return a, nil
}

// PinSpec returns the value of `pin` option, or DefaultPinSpec
func (a *Address) PinSpec() string {
	if spec := a.Options[PinOption]; spec != "" {
		return spec
	}
	return DefaultPinSpec
}

// RedactedPinSpec returns PinSpec with a literal PIN redacted
func (a *Address) RedactedPinSpec() string {
	return redact(PinOption, a.PinSpec())
}

// String returns the address in the canonical form,
// a literal PIN is redacted
func (a *Address) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(a.ModulePath)
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(a.Slot), 10))
	b.WriteByte('/')
	b.WriteString(a.KeyName)

	if len(a.Options) > 0 {
		names := make([]string, 0, len(a.Options))
		for name := range a.Options {
			names = append(names, name)
		}
		sort.Strings(names)

		for i, name := range names {
			if i == 0 {
				b.WriteByte('?')
			} else {
				b.WriteByte('&')
			}
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(redact(name, a.Options[name]))
		}
	}
	return b.String()
}

func redact(name, val string) string {
	if name == PinOption && !strings.HasPrefix(val, "env:") && !strings.HasPrefix(val, "file:") {
		return "****"
	}
	return val
}
