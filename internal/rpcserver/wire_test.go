package rpcserver

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := request{Method: "generate_text_begin"}
	payload, err := encodePayload(textBeginArgs{SystemPrompt: "sys", UserPrompt: "usr"})
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	req.Payload = payload

	if err := writeFrame(&buf, req); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	var got request
	if err := readFrame(&buf, &got); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.Method != "generate_text_begin" {
		t.Fatalf("method = %q, want generate_text_begin", got.Method)
	}

	var args textBeginArgs
	if err := decodeInto(got.Payload, &args); err != nil {
		t.Fatalf("decodeInto: %v", err)
	}
	if args.SystemPrompt != "sys" || args.UserPrompt != "usr" {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	g := &Gateway{log: nopLogger()}
	resp := g.dispatch(&sessionState{}, request{Method: "not_a_method"})
	if resp.Err == "" {
		t.Fatal("expected error for unknown method")
	}
}
