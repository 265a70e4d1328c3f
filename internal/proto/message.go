// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package proto implements the wire protocol clients and the server
// speak over TCP: one JSON object per request, one JSON object per
// response, each prefixed with a 4-byte big-endian length so a receiver
// never has to guess a message boundary from a short read. The codec
// itself is the original implementation's (json.dumps/json.loads);
// the length prefix is this rewrite's replacement for the original's
// fixed-chunk short-read framing, per SPEC_FULL.md §6.
package proto

import (
	"encoding/binary"
	"encoding/json"
	"io"

	wqerrors "github.com/wq-cluster/wqd/pkg/errors"
)

// MaxMessageSize bounds a single frame to guard against a misbehaving
// or malicious peer claiming an enormous length prefix.
const MaxMessageSize = 16 << 20 // 16 MiB

// Request is the decoded shape of a client request. Verb-specific
// fields are retrieved through Get from a raw JSON map, because the set
// of recognized fields differs per verb (§4.6) and a single flat struct
// would force every verb to share an unrelated field namespace.
type Request struct {
	Command string `json:"command"`
	raw     map[string]json.RawMessage
}

// UnmarshalJSON decodes command plus the full field set, so Request.Get
// can retrieve verb-specific fields by name without a second parse.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if cmd, ok := raw["command"]; ok {
		if err := json.Unmarshal(cmd, &r.Command); err != nil {
			return err
		}
	}
	r.raw = raw
	return nil
}

// Get decodes the named field into dst, reporting whether the field was
// present at all.
func (r *Request) Get(name string, dst any) (bool, error) {
	field, ok := r.raw[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(field, dst); err != nil {
		return true, err
	}
	return true, nil
}

// Response is the encoded shape of a server reply. Exactly one of
// Response/Error is populated, per §6 ("responses carry either response
// (success) or error (failure)").
type Response struct {
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OK builds a bare successful response carrying the literal string "OK",
// the shape §4.6 uses for verbs with no payload beyond success itself.
func OK() Response { return Response{Response: "OK"} }

// WithPayload builds a successful response wrapping an arbitrary value.
func WithPayload(v any) Response { return Response{Response: v} }

// Fail builds an error response from a message.
func Fail(message string) Response { return Response{Error: message} }

// WriteMessage frames v as length-prefixed JSON and writes it to w.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeMalformed, "encoding message", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return wqerrors.WrapConnError(err)
	}
	if _, err := w.Write(data); err != nil {
		return wqerrors.WrapConnError(err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r and decodes it
// into v.
func ReadMessage(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return err
		}
		return wqerrors.WrapConnError(err)
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxMessageSize {
		return wqerrors.New(wqerrors.ErrorCodeMalformed, "message exceeds maximum size")
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return wqerrors.WrapConnError(err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeMalformed, "could not parse request", err)
	}
	return nil
}
