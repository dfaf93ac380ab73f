package domainid

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://www.Example.com/path", "example.com", true},
		{"https://www.www.example.com", "www.example.com", true},
		{"http://sub.example.com:8080/x?y=1", "sub.example.com", true},
		{"https://EXAMPLE.org", "example.org", true},
		{"https://bücher.example/", "xn--bcher-kva.example", true},
		{"file:///home/user/attack.html", "attack.html", true},
		{"file:///", LocalFile, true},
		{"not a url", "", false},
		{"", "", false},
		{"mailto:someone@example.com", "", false},
		{"http://[::1", "", false},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalize_StripsWWWOnce(t *testing.T) {
	got, _ := Normalize("https://www.www.www.example.com")
	if got != "www.www.example.com" {
		t.Errorf("got %q, want %q", got, "www.www.example.com")
	}
}
