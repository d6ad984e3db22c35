// Package config provides the token configuration used by the signer tools
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/pk11signer", "config")

// TokenConfig holds PKCS#11 configuration information,
// the values are used as defaults when the key address does not specify them.
type TokenConfig interface {
	// Path is the full path to PKCS#11 library
	Path() string

	// Slot number
	Slot() uint

	// Pin is a secret to access the token.
	// If it's prefixed with `file:`, then it is loaded from the file,
	// `env:NAME` is kept as is and resolved when the session is opened.
	Pin() string

	// Mechanism is the CKM_ name of the signing mechanism
	Mechanism() string
}

type tokenConfig struct {
	Dir  string `json:"Path"      yaml:"path"`
	Num  uint   `json:"Slot"      yaml:"slot"`
	Pwd  string `json:"Pin"       yaml:"pin"`
	Mech string `json:"Mechanism" yaml:"mechanism"`
}

// Path is the full path to PKCS#11 library
func (c *tokenConfig) Path() string {
	return c.Dir
}

// Slot number
func (c *tokenConfig) Slot() uint {
	return c.Num
}

// Pin is a secret to access the token
func (c *tokenConfig) Pin() string {
	return c.Pwd
}

// Mechanism is the CKM_ name of the signing mechanism
func (c *tokenConfig) Mechanism() string {
	return c.Mech
}

// LoadTokenConfig loads PKCS#11 token configuration,
// the file is decoded as JSON if it has `.json` extension, as YAML otherwise
func LoadTokenConfig(filename string) (TokenConfig, error) {
	cfr, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer cfr.Close()
	tokenConfig := new(tokenConfig)

	if strings.HasSuffix(filename, ".json") {
		err = json.NewDecoder(cfr).Decode(tokenConfig)
	} else {
		err = yaml.NewDecoder(cfr).Decode(tokenConfig)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to decode file: %s", filename)
	}

	pin := tokenConfig.Pin()
	if strings.HasPrefix(pin, "file:") {
		pinfile := pin[5:]

		// try to resolve pin file
		cwd, _ := os.Getwd()
		folders := []string{
			"",
			cwd,
			filepath.Dir(filename),
		}

		for _, folder := range folders {
			if resolved, err := resolve(pinfile, folder); err == nil {
				pinfile = resolved
				break
			}
			logger.KV(xlog.DEBUG, "reason", "resolve", "pinfile", pinfile, "basedir", folder)
		}

		pb, err := os.ReadFile(pinfile)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load PIN for configuration: %s", filename)
		}
		tokenConfig.Pwd = strings.TrimRight(string(pb), "\r\n\t ")
	}

	return tokenConfig, nil
}

// resolve returns absolute file name relative to baseDir,
// or error if the file does not exist
func resolve(file string, baseDir string) (resolved string, err error) {
	if file == "" {
		return file, nil
	}
	if filepath.IsAbs(file) {
		resolved = file
	} else if baseDir != "" {
		resolved = filepath.Join(baseDir, file)
	}
	if _, err := os.Stat(resolved); err != nil {
		return resolved, errors.WithMessagef(err, "not found: %v", resolved)
	}
	return resolved, nil
}
