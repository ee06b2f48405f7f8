package cache

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		url    string
		want   string
	}{
		{
			name: "default prefix",
			url:  "https://shop.example/kettle",
			want: "descgen:page:https://shop.example/kettle",
		},
		{
			name:   "custom prefix",
			prefix: "test",
			url:    "https://shop.example/kettle",
			want:   "test:https://shop.example/kettle",
		},
		{
			name: "host case folded",
			url:  "HTTPS://Shop.Example/Kettle",
			want: "descgen:page:https://shop.example/Kettle",
		},
		{
			name: "fragment dropped",
			url:  "https://shop.example/kettle#reviews",
			want: "descgen:page:https://shop.example/kettle",
		},
		{
			name: "trailing slash trimmed",
			url:  "https://shop.example/ru/kettle/",
			want: "descgen:page:https://shop.example/ru/kettle",
		},
		{
			name: "root kept",
			url:  "https://shop.example/",
			want: "descgen:page:https://shop.example/",
		},
		{
			name: "query sorted",
			url:  "https://shop.example/kettle?size=2&color=red",
			want: "descgen:page:https://shop.example/kettle?color=red&size=2",
		},
		{
			name: "not a url",
			url:  "  kettle ",
			want: "descgen:page:kettle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.prefix, tt.url); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Determinism(t *testing.T) {
	a := Key("", "https://shop.example/kettle?b=2&a=1")
	for i := 0; i < 50; i++ {
		if b := Key("", "https://shop.example/kettle?a=1&b=2"); a != b {
			t.Fatalf("iteration %d: %q != %q", i, a, b)
		}
	}
}
