package cache

import (
	"reflect"
	"testing"
)

type codecSample struct {
	Status int
	Header map[string][]string
	Body   []byte
}

func TestCodecsPreserveValues(t *testing.T) {
	in := codecSample{
		Status: 200,
		Header: map[string][]string{"Content-Type": {"text/css"}},
		Body:   []byte("body{margin:0}"),
	}
	for _, name := range []string{"json", "gob"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			if err != nil {
				t.Fatalf("CodecByName: %v", err)
			}
			data, err := codec.Marshal(in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var out codecSample
			if err := codec.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(in, out) {
				t.Fatalf("expected %+v, got %+v", in, out)
			}
		})
	}
}

func TestCodecByNameUnknown(t *testing.T) {
	if _, err := CodecByName("msgpack"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}
