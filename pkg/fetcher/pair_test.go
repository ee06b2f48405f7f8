package fetcher

import "testing"

func TestLocalePair(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		prefix  string
		want    string
		wantErr bool
	}{
		{"inserts prefix", "https://shop.test/kettle-x1", "/ru", "https://shop.test/ru/kettle-x1", false},
		{"default prefix", "https://shop.test/kettle-x1", "", "https://shop.test/ru/kettle-x1", false},
		{"keeps query", "https://shop.test/p/1?color=red", "ru", "https://shop.test/ru/p/1?color=red", false},
		{"already prefixed", "https://shop.test/ru/kettle-x1", "/ru", "https://shop.test/ru/kettle-x1", false},
		{"bare prefix path", "https://shop.test/ru", "/ru", "https://shop.test/ru", false},
		{"similar segment", "https://shop.test/rugs/1", "/ru", "https://shop.test/ru/rugs/1", false},
		{"root", "https://shop.test", "/ru", "https://shop.test/ru/", false},
		{"relative key", "/kettle", "/ru", "", true},
		{"garbage", "://", "/ru", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LocalePair(tt.key, tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LocalePair() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LocalePair() = %q, want %q", got, tt.want)
			}
		})
	}
}
