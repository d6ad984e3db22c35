package crypto11

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/pk11signer/metricskey"
	"github.com/effective-security/xlog"
)

// LookupEnvFunc returns the value of environment variable
type LookupEnvFunc func(key string) (string, bool)

// ResolvePin returns the PIN for the spec:
// `env:NAME` reads NAME environment variable,
// `file:PATH` reads the file,
// any other value is the PIN itself.
// ok is false when the PIN is not available.
// A variable or file with an empty value is treated as no PIN,
// so OpenSession does not log in.
func ResolvePin(spec string, lookupEnv LookupEnvFunc) (pin string, ok bool) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	switch {
	case strings.HasPrefix(spec, "env:"):
		pin, ok = lookupEnv(spec[4:])
	case strings.HasPrefix(spec, "file:"):
		b, err := os.ReadFile(spec[5:])
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "pin_file", "err", err.Error())
			return "", false
		}
		pin = strings.TrimRight(string(b), "\r\n\t ")
		ok = true
	default:
		pin, ok = spec, spec != ""
	}
	return pin, ok && pin != ""
}

// Session is an open session on a slot
type Session struct {
	module   Module
	handle   SessionHandle
	slot     uint
	loggedIn bool
	closed   bool
}

// OpenSession opens a session on the slot and logs in
// if the PIN is resolved from pinSpec.
// Without PIN the session stays unauthenticated.
func OpenSession(m Module, slot uint, pinSpec string, lookupEnv LookupEnvFunc) (*Session, error) {
	defer metricskey.PerfTokenOperation.MeasureSince(time.Now(), ProviderName, "open_session")

	sh, err := m.OpenSession(slot)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to open session on slot %d", slot)
	}

	s := &Session{
		module: m,
		handle: sh,
		slot:   slot,
	}

	pin, ok := ResolvePin(pinSpec, lookupEnv)
	if !ok {
		logger.KV(xlog.WARNING, "reason", "no_pin", "slot", slot, "pin_spec", redactPinSpec(pinSpec))
		return s, nil
	}

	err = m.Login(sh, pin)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyLoggedIn):
		s.loggedIn = true
	default:
		if cerr := s.Close(); cerr != nil {
			logger.KV(xlog.ERROR, "reason", "close_after_login", "slot", slot, "err", cerr.Error())
		}
		return nil, errors.Wrapf(ErrAuthentication, "slot %d: %v", slot, err)
	}

	return s, nil
}

// Module returns the module of the session
func (s *Session) Module() Module {
	return s.module
}

// Slot returns the slot of the session
func (s *Session) Slot() uint {
	return s.slot
}

// LoggedIn returns true if the session is authenticated
func (s *Session) LoggedIn() bool {
	return s.loggedIn
}

// Closed returns true if the session was closed
func (s *Session) Closed() bool {
	return s.closed
}

// Sign signs data with the key object, the data is passed to the token as is
func (s *Session) Sign(obj ObjectHandle, mech Mechanism, data []byte) ([]byte, error) {
	if s.closed {
		return nil, errors.Errorf("session on slot %d is closed", s.slot)
	}
	defer metricskey.PerfTokenOperation.MeasureSince(time.Now(), ProviderName, "sign")
	return s.module.Sign(s.handle, obj, mech, data)
}

// Close logs out and closes the session.
// Close is attempted even if logout fails.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.loggedIn {
		s.loggedIn = false
		if lerr := s.module.Logout(s.handle); lerr != nil {
			err = errors.WithMessage(lerr, "logout")
		}
	}
	if cerr := s.module.CloseSession(s.handle); cerr != nil {
		err = errors.CombineErrors(err, errors.WithMessage(cerr, "close session"))
	}
	return err
}

func redactPinSpec(spec string) string {
	if strings.HasPrefix(spec, "env:") || strings.HasPrefix(spec, "file:") {
		return spec
	}
	return "****"
}
