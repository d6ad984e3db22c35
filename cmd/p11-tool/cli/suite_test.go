package cli

import (
	"bytes"

	"github.com/alecthomas/kong"
	"github.com/effective-security/pk11signer/crypto11"
	"github.com/effective-security/pk11signer/crypto11/p11test"
	"github.com/effective-security/x/ctl"
	"github.com/stretchr/testify/suite"
)

type testSuite struct {
	suite.Suite

	ctl   *Cli
	token *p11test.Token
	env   map[string]string
	// Out is the outpub buffer
	Out bytes.Buffer
}

func (s *testSuite) SetupTest() {
	s.Out.Reset()
	s.token = p11test.New()
	s.token.Pin = "1234"
	s.env = map[string]string{
		"PYKCS11PIN": "1234",
	}

	s.ctl = &Cli{}
	s.ctl.WithErrWriter(&s.Out).
		WithWriter(&s.Out).
		WithRegistry(crypto11.NewRegistry(s.token.Loader(nil))).
		WithLookupEnv(func(key string) (string, bool) {
			v, ok := s.env[key]
			return v, ok
		})

	parser, err := kong.New(s.ctl,
		kong.Name("p11-tool"),
		kong.Description("CLI tool to sign with keys on PKCS#11 tokens"),
		kong.Writers(&s.Out, &s.Out),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{})
	if err != nil {
		s.FailNow("unexpected error constructing Kong: %+v", err)
	}

	_, err = parser.Parse([]string{})
	if err != nil {
		s.FailNow("unexpected error parsing: %+v", err)
	}
}

func (s *testSuite) TearDownTest() {
	s.Equal(0, s.token.OpenSessions(), "all sessions must be closed")
}

// HasText is a helper method to assert that the out stream contains the supplied
// text somewhere
func (s *testSuite) HasText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}

// HasNoText is a helper method to assert that the out stream does not contain the supplied
// text anywhere
func (s *testSuite) HasNoText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.NotContains(outStr, t)
	}
}
