package splice

import (
	"reflect"
	"testing"
)

type codecTestDoc struct {
	Name  string `json:"name" yaml:"name"`
	Value int    `json:"value" yaml:"value"`
}

func TestCodecs_Unmarshal(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		data  string
	}{
		{"json", JSONCodec{}, `{"name": "test", "value": 42}`},
		{"yaml", YAMLCodec{}, "name: test\nvalue: 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc codecTestDoc
			if err := tt.codec.Unmarshal([]byte(tt.data), &doc); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if doc.Name != "test" || doc.Value != 42 {
				t.Errorf("unexpected result %+v", doc)
			}
		})
	}
}

func TestCodecs_UnmarshalInvalid(t *testing.T) {
	var doc codecTestDoc
	if err := (JSONCodec{}).Unmarshal([]byte(`{not valid json}`), &doc); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if err := (YAMLCodec{}).Unmarshal([]byte("name: [unclosed"), &doc); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"join.yaml", "application/x-yaml"},
		{"join.YML", "application/x-yaml"},
		{"join.json", "application/json"},
		{"join", "application/json"},
	}
	for _, tt := range tests {
		if got := CodecFor(tt.file).ContentType(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.file, tt.want, got)
		}
	}
}

func TestAutoCodec(t *testing.T) {
	tests := []struct {
		name string
		data string
		want any
	}{
		{"json object", ` {"a": 1}`, map[string]any{"a": float64(1)}},
		{"json array", `[1, 2]`, []any{float64(1), float64(2)}},
		{"yaml", "a: 1\n", map[string]any{"a": 1}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got any
			if err := (AutoCodec{}).Unmarshal([]byte(tt.data), &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	var v any
	if err := (AutoCodec{}).Unmarshal([]byte(`{broken`), &v); err == nil {
		t.Error("expected a JSON error for a brace-prefixed document")
	}
}
