package urlguard

import (
	"context"
	"errors"
	"testing"
)

func fakeDNS(m map[string][]string) func(context.Context, string) ([]string, error) {
	return func(_ context.Context, host string) ([]string, error) {
		if addrs, ok := m[host]; ok {
			return addrs, nil
		}
		return nil, errors.New("no such host")
	}
}

func TestCheck(t *testing.T) {
	g := &Guard{lookup: fakeDNS(map[string][]string{
		"shop.test":     {"93.184.216.34"},
		"intranet.test": {"93.184.216.34", "10.1.2.3"},
	})}
	tests := []struct {
		url    string
		reject bool
	}{
		{"https://shop.test/cart", false},
		{"http://shop.test/", false},
		{"https://unresolvable.test/", false},
		{"http://8.8.8.8/", false},
		{"ftp://shop.test/file", true},
		{"javascript:alert(1)", true},
		{"https:///path", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/", true},
		{"http://172.16.0.1/", true},
		{"http://192.168.1.1/", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://[::1]/", true},
		{"http://0.0.0.0/", true},
		{"https://intranet.test/", true},
	}
	for _, tt := range tests {
		err := g.Check(context.Background(), tt.url)
		if (err != nil) != tt.reject {
			t.Errorf("Check(%q): got %v, want reject=%v", tt.url, err, tt.reject)
		}
		if err != nil && !errors.Is(err, ErrUnsafeURL) {
			t.Errorf("Check(%q): %v does not wrap ErrUnsafeURL", tt.url, err)
		}
	}
}
