// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package proto

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := Request{}
	err := json.Unmarshal([]byte(`{"command":"sub","pid":42,"user":"anze"}`), &req)
	require.NoError(t, err)

	require.NoError(t, WriteMessage(&buf, req))

	var decoded Request
	require.NoError(t, ReadMessage(&buf, &decoded))
	assert.Equal(t, "sub", decoded.Command)
}

func TestRequest_Get(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"command":"sub","pid":42}`), &req))

	var pid int
	found, err := req.Get("pid", &pid)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, pid)

	var missing string
	found, err = req.Get("nope", &missing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadMessage_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	buf.Write(lenBuf[:])

	var decoded Request
	err := ReadMessage(&buf, &decoded)
	require.Error(t, err)
}

func TestReadMessage_MalformedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, "not an object"))

	var decoded Request
	err := ReadMessage(&buf, &decoded)
	require.Error(t, err)
}

func TestOKAndFail(t *testing.T) {
	ok := OK()
	assert.Equal(t, "OK", ok.Response)
	assert.Empty(t, ok.Error)

	f := Fail("bad request")
	assert.Equal(t, "bad request", f.Error)
	assert.Nil(t, f.Response)
}

func TestDecodeRequirement_GroupAsString(t *testing.T) {
	req, err := DecodeRequirement(json.RawMessage(`{"mode":"by_core","N":4,"group":"grpA"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"grpA"}, req.Group)
	assert.Equal(t, 1, req.Threads, "defaults should fill threads")
}

func TestDecodeRequirement_GroupAsList(t *testing.T) {
	req, err := DecodeRequirement(json.RawMessage(`{"group":["grpA","grpB"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"grpA", "grpB"}, req.Group)
}
