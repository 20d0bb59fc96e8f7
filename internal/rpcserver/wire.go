// Package rpcserver implements the gateway's binary RPC surface: a
// length-prefixed, self-describing frame encoding (CBOR payloads behind a
// uint32 big-endian length) carried over plain TCP, with no fixed upper
// frame size.
package rpcserver

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// request is the envelope a client sends for one call.
type request struct {
	Method  string          `cbor:"method"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// response is the envelope the server sends back for one call. Err is
// non-empty only for a handful of protocol-level failures (bad method
// name, bad payload) — application-level failures are always flattened
// into the method's own return value, never into Err.
type response struct {
	Payload cbor.RawMessage `cbor:"payload"`
	Err     string          `cbor:"err,omitempty"`
}

// readFrame reads one length-prefixed frame and CBOR-decodes it into v.
func readFrame(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	if err := cbor.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// writeFrame CBOR-encodes v and writes it as one length-prefixed frame.
func writeFrame(w io.Writer, v any) error {
	buf, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(buf)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

func encodePayload(v any) (cbor.RawMessage, error) {
	buf, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(buf), nil
}

func decodeInto(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return cbor.Unmarshal(raw, v)
}
