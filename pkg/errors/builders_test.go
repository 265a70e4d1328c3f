// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapConnError(t *testing.T) {
	assert.Nil(t, WrapConnError(nil))

	existing := New(ErrorCodeIO, "already classified")
	assert.Same(t, existing, WrapConnError(existing))

	broken := fmt.Errorf("write tcp 127.0.0.1:51093: broken pipe")
	wrapped := WrapConnError(broken)
	assert.Equal(t, ErrorCodeIO, wrapped.Code)
	assert.False(t, wrapped.IsFatal())

	reset := &net.OpError{Op: "read", Err: syscall.ECONNRESET}
	wrapped = WrapConnError(reset)
	assert.Equal(t, ErrorCodeIO, wrapped.Code)
}

func TestIsBrokenPipeOrReset(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"broken pipe string", errors.New("write: broken pipe"), true},
		{"connection reset string", errors.New("read: connection reset by peer"), true},
		{"closed network connection", errors.New("use of closed network connection"), true},
		{"unrelated error", errors.New("boom"), false},
		{"epipe errno", &net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{"econnreset errno", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"etimedout errno", &net.OpError{Op: "dial", Err: syscall.ETIMEDOUT}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBrokenPipeOrReset(tt.err))
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	v := NewValidationError("missing 'pid' field")
	assert.Equal(t, ErrorCodeValidation, v.Code)

	n := NewNevermatchError("host cores too few")
	assert.Equal(t, ErrorCodeNevermatch, n.Code)

	m := NewMalformedError(errors.New("unexpected end of JSON input"))
	assert.Equal(t, ErrorCodeMalformed, m.Code)
	assert.NotNil(t, m.Cause)

	s := NewSpoolReadError("42.wait", errors.New("corrupt record"))
	assert.Equal(t, ErrorCodeSpool, s.Code)
	assert.Equal(t, "42.wait", s.Details)

	i := NewInvariantError("unreserve below zero on n1")
	assert.Equal(t, ErrorCodeInvariant, i.Code)
	assert.True(t, i.IsFatal())
}
