// Package ctl provides output helpers for the command line tools
package ctl

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/ugorji/go/codec"
)

var (
	// jsonEncPPHandle is used to encode json with a human readable pretty printed out put, as well as
	// line breaks/indents, fields are serialized in a canonical order everytime
	jsonEncPPHandle codec.JsonHandle
)

func init() {
	jsonEncPPHandle.BasicHandle.EncodeOptions.Canonical = true
	jsonEncPPHandle.Indent = -1
}

var newLine = []byte("\n")

// WriteJSON prints value to out as indented JSON
func WriteJSON(out io.Writer, value any) error {
	var json []byte
	err := codec.NewEncoderBytes(&json, &jsonEncPPHandle).Encode(value)
	if err != nil {
		return errors.WithMessage(err, "failed to encode")
	}

	if _, err = out.Write(json); err != nil {
		return errors.WithStack(err)
	}
	_, err = out.Write(newLine)
	return errors.WithStack(err)
}
