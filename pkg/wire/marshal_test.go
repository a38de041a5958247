package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	t.Run("u16", func(t *testing.T) {
		b := PackU16(0xABCD)
		if !bytes.Equal(b, []byte{0xAB, 0xCD}) {
			t.Fatalf("PackU16 not big-endian: %x", b)
		}
		v, err := UnpackU16(b, 0)
		if err != nil || v != 0xABCD {
			t.Errorf("UnpackU16 = %v, %v", v, err)
		}
	})

	t.Run("i16 negative", func(t *testing.T) {
		b := PackI16(-300)
		v, err := UnpackI16(b, 0)
		if err != nil || v != -300 {
			t.Errorf("UnpackI16 = %v, %v", v, err)
		}
	})

	t.Run("u32", func(t *testing.T) {
		b := PackU32(0xDEADBEEF)
		if !bytes.Equal(b, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
			t.Fatalf("PackU32 not big-endian: %x", b)
		}
		v, err := UnpackU32(b, 0)
		if err != nil || v != 0xDEADBEEF {
			t.Errorf("UnpackU32 = %v, %v", v, err)
		}
	})

	t.Run("float32", func(t *testing.T) {
		v, err := UnpackFloat32(PackFloat32(-2.75), 0)
		if err != nil || v != -2.75 {
			t.Errorf("UnpackFloat32 = %v, %v", v, err)
		}
	})

	t.Run("bool", func(t *testing.T) {
		v, err := UnpackBool(PackBool(true), 0)
		if err != nil || !v {
			t.Errorf("UnpackBool = %v, %v", v, err)
		}
		v, err = UnpackBool([]byte{0xFF}, 0)
		if err != nil || !v {
			t.Errorf("non-zero byte should be true: %v, %v", v, err)
		}
	})

	t.Run("offset", func(t *testing.T) {
		data := append([]byte{0x00, 0x00}, PackU16(512)...)
		v, err := UnpackU16(data, 2)
		if err != nil || v != 512 {
			t.Errorf("UnpackU16 at offset = %v, %v", v, err)
		}
	})
}

func TestUnpackShortPayload(t *testing.T) {
	if _, err := UnpackU32([]byte{1, 2}, 0); !errors.Is(err, ErrShortPayload) {
		t.Errorf("got %v, want ErrShortPayload", err)
	}
	if _, err := UnpackU8([]byte{1}, 1); !errors.Is(err, ErrShortPayload) {
		t.Errorf("got %v, want ErrShortPayload", err)
	}
	if _, err := UnpackU8([]byte{1}, -1); !errors.Is(err, ErrShortPayload) {
		t.Errorf("negative offset: got %v, want ErrShortPayload", err)
	}
}

func TestDecodeVersion(t *testing.T) {
	v, err := DecodeVersion([]byte{2, 8, 7})
	if err != nil {
		t.Fatalf("DecodeVersion failed: %v", err)
	}
	if v.(string) != "2.8.7" {
		t.Errorf("got %q, want 2.8.7", v)
	}
	if _, err := DecodeVersion([]byte{2, 8}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("got %v, want ErrShortPayload", err)
	}
}

func TestDecodeBytesCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	v, err := DecodeBytes(src)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	raw := v.([]byte)
	src[0] = 9
	if raw[0] != 1 {
		t.Error("DecodeBytes aliases the reply buffer")
	}
}
