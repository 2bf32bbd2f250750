package store

import (
	"reflect"
	"testing"
)

func TestOptionsRoundTripPreservesOrder(t *testing.T) {
	encoded, err := encodeOptions([]string{"a", "b"})
	if err != nil {
		t.Fatalf("encode options: %v", err)
	}
	if encoded == nil {
		t.Fatal("expected encoded options, got nil")
	}

	decoded := decodeOptions(encoded)
	if !reflect.DeepEqual(decoded, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", decoded)
	}
}

func TestEncodeNilOptionsStoresNull(t *testing.T) {
	encoded, err := encodeOptions(nil)
	if err != nil {
		t.Fatalf("encode options: %v", err)
	}
	if encoded != nil {
		t.Fatalf("expected nil for absent options, got %q", *encoded)
	}
}

func TestDecodeMalformedOptionsDegradesToEmptyList(t *testing.T) {
	malformed := `{"not":"a list"`
	decoded := decodeOptions(&malformed)
	if decoded == nil {
		t.Fatal("expected empty list, got nil")
	}
	if len(decoded) != 0 {
		t.Fatalf("expected empty list, got %v", decoded)
	}
}

func TestDecodeNullOptions(t *testing.T) {
	if decoded := decodeOptions(nil); decoded != nil {
		t.Fatalf("expected nil for NULL column, got %v", decoded)
	}
}
