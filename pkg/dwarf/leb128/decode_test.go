package leb128

import (
	"bytes"
	"testing"
)

func TestDecodeUnsigned(t *testing.T) {
	leb128 := bytes.NewBuffer([]byte{0xE5, 0x8E, 0x26})

	n, c := DecodeUnsigned(leb128)
	if n != 624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}

	if c != 3 {
		t.Fatal("Count not returned correctly")
	}
}

func TestDecodeSigned(t *testing.T) {
	sleb128 := bytes.NewBuffer([]byte{0x9b, 0xf1, 0x59})

	n, c := DecodeSigned(sleb128)
	if n != -624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
}

func TestDecodeUnsignedTruncated(t *testing.T) {
	// Continuation bit set on the last available byte.
	for _, tc := range [][]byte{{}, {0x80}, {0xE5, 0x8E}} {
		n, c := DecodeUnsigned(bytes.NewBuffer(tc))
		if c != 0 {
			t.Errorf("%#v: expected zero count for truncated number, got %d (value %d)", tc, c, n)
		}
	}
}

func TestDecodeSignedTruncated(t *testing.T) {
	for _, tc := range [][]byte{{}, {0x80}, {0x9b, 0xf1}} {
		n, c := DecodeSigned(bytes.NewBuffer(tc))
		if c != 0 {
			t.Errorf("%#v: expected zero count for truncated number, got %d (value %d)", tc, c, n)
		}
	}
}
