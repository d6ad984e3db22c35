package signer

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/effective-security/pk11signer/metricskey"
	"github.com/effective-security/pk11signer/pk11uri"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/pk11signer", "signer")

var (
	// ErrNoSuchKey is returned when the token has no private key for the address
	ErrNoSuchKey = errors.New("no such key")
	// ErrSessionClosed is returned when the signer is used after its session was closed
	ErrSessionClosed = errors.New("signer session is closed")
)

// Factory creates signers for token addresses
type Factory struct {
	registry          *crypto11.Registry
	lookupEnv         crypto11.LookupEnvFunc
	defaultModulePath string
	defaultPin        string
	defaultSlot       *uint
}

// Option configures Factory
type Option interface {
	apply(*Factory)
}

type optionFunc func(*Factory)

func (f optionFunc) apply(o *Factory) { f(o) }

// WithRegistry specifies the module registry,
// by default crypto11.DefaultRegistry is used
func WithRegistry(r *crypto11.Registry) Option {
	return optionFunc(func(f *Factory) {
		f.registry = r
	})
}

// WithLookupEnv replaces os.LookupEnv, used to resolve the module path and `env:` PIN
func WithLookupEnv(fn crypto11.LookupEnvFunc) Option {
	return optionFunc(func(f *Factory) {
		f.lookupEnv = fn
	})
}

// WithDefaultModulePath specifies the module path to use when neither
// the address nor the environment provide one
func WithDefaultModulePath(path string) Option {
	return optionFunc(func(f *Factory) {
		f.defaultModulePath = path
	})
}

// WithDefaultPin specifies the PIN spec to use when the address has no `pin` option,
// by default pk11uri.DefaultPinSpec is used
func WithDefaultPin(pinSpec string) Option {
	return optionFunc(func(f *Factory) {
		f.defaultPin = pinSpec
	})
}

// WithDefaultSlot specifies the slot to use when the address has no slot
func WithDefaultSlot(slot uint) Option {
	return optionFunc(func(f *Factory) {
		f.defaultSlot = &slot
	})
}

// NewFactory returns Factory
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		registry:  crypto11.DefaultRegistry,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt.apply(f)
	}
	if f.registry == nil {
		f.registry = crypto11.DefaultRegistry
	}
	if f.lookupEnv == nil {
		f.lookupEnv = os.LookupEnv
	}
	return f
}

var defaultFactory = NewFactory()

// MakeSigner returns signer for the address, using the default factory
func MakeSigner(uri string, mech crypto11.Mechanism) (*Signer, string, error) {
	return defaultFactory.MakeSigner(uri, mech)
}

// Parse returns the address with the factory defaults applied
func (f *Factory) Parse(uri string) (*pk11uri.Address, error) {
	addr, err := pk11uri.Parse(uri,
		pk11uri.WithLookupEnv(pk11uri.LookupEnvFunc(f.lookupEnv)),
		pk11uri.WithDefaultModulePath(f.defaultModulePath),
	)
	if err != nil {
		return nil, err
	}
	if !addr.ExplicitSlot && f.defaultSlot != nil {
		addr.Slot = *f.defaultSlot
	}
	return addr, nil
}

// MakeSigner returns signer for the key specified by uri,
// and PEM encoded certificate of the key if the token has one.
// The returned signer owns an open session on the token,
// which is released by Sign or Close.
func (f *Factory) MakeSigner(uri string, mech crypto11.Mechanism) (*Signer, string, error) {
	defer metricskey.PerfSignerOperation.MeasureSince(time.Now(), "make_signer")

	addr, err := f.Parse(uri)
	if err != nil {
		return nil, "", err
	}

	m, err := f.registry.GetOrLoad(addr.ModulePath)
	if err != nil {
		return nil, "", err
	}

	pinSpec := addr.PinSpec()
	if _, ok := addr.Options[pk11uri.PinOption]; !ok && f.defaultPin != "" {
		pinSpec = f.defaultPin
	}

	session, err := crypto11.OpenSession(m, addr.Slot, pinSpec, f.lookupEnv)
	if err != nil {
		return nil, "", errors.WithMessagef(err, "unable to open session for %s", addr)
	}

	key, certPEM, err := crypto11.FindKey(session, addr.KeyName)
	if err != nil {
		closeSession(session, addr)
		if errors.Is(err, crypto11.ErrObjectNotFound) {
			return nil, "", errors.Wrapf(ErrNoSuchKey, "%s", addr)
		}
		return nil, "", errors.WithMessagef(err, "unable to find key for %s", addr)
	}

	logger.KV(xlog.INFO,
		"key", addr.KeyName,
		"slot", addr.Slot,
		"id", crypto11.FormatID(key.ID),
		"has_cert", certPEM != "",
	)

	return &Signer{
		address: addr,
		session: session,
		key:     key,
		mech:    mech,
	}, certPEM, nil
}

type state int

const (
	stateReady state = iota
	stateConsumed
)

// Signer signs data with a private key on the token.
// A signer can be used only once.
type Signer struct {
	lock  sync.Mutex
	state state

	address *pk11uri.Address
	session *crypto11.Session
	key     *crypto11.KeyObject
	mech    crypto11.Mechanism
}

// KeyLabel returns the label of the key
func (s *Signer) KeyLabel() string {
	return s.key.Label
}

// KeyID returns CKA_ID of the key
func (s *Signer) KeyID() []byte {
	return s.key.ID
}

// Mechanism returns the signing mechanism
func (s *Signer) Mechanism() crypto11.Mechanism {
	return s.mech
}

// Sign returns the signature of data computed by the token,
// then logs out and closes the session.
// The data is signed as is: for CKM_RSA_PKCS the caller provides
// the encoded DigestInfo.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == stateConsumed {
		return nil, errors.Wrapf(ErrSessionClosed, "%s", s.address)
	}
	s.state = stateConsumed

	defer metricskey.PerfSignerOperation.MeasureSince(time.Now(), "sign")

	sig, err := s.session.Sign(s.key.Handle, s.mech, data)
	closeSession(s.session, s.address)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to sign with %s", s.address)
	}

	logger.KV(xlog.DEBUG,
		"key", s.key.Label,
		"mechanism", s.mech,
		"data_size", len(data),
		"sig_size", len(sig),
	)
	return sig, nil
}

// Close releases the session of unused signer,
// it is a no-op after Sign.
func (s *Signer) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == stateConsumed {
		return nil
	}
	s.state = stateConsumed
	return s.session.Close()
}

func closeSession(s *crypto11.Session, addr *pk11uri.Address) {
	if err := s.Close(); err != nil {
		logger.KV(xlog.ERROR, "reason", "close_session", "uri", addr.String(), "err", err.Error())
	}
}
