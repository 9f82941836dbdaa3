package tenancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubdomainFromHost(t *testing.T) {
	cases := []struct {
		host  string
		base  string
		label string
		ok    bool
	}{
		{"acme.example.com", "example.com", "acme", true},
		{"ACME.Example.com:8443", "example.com", "acme", true},
		{"acme.example.com.", "example.com", "acme", true},
		{"localhost", "example.com", "", false},
		{"localhost:8080", "example.com", "", false},
		{"127.0.0.1:8080", "example.com", "", false},
		{"[::1]:8080", "example.com", "", false},
		{"example.com", "example.com", "", false},
		{"a.b.example.com", "example.com", "", false},
		{"rentals.acme.io", "example.com", "", false},
		{"notexample.com", "example.com", "", false},
		{"acme.localhost:8080", "localhost", "acme", true},
		{"acme.example.com", "", "", false},
		{"", "example.com", "", false},
	}
	for _, tc := range cases {
		label, ok := SubdomainFromHost(tc.host, tc.base)
		assert.Equal(t, tc.ok, ok, tc.host)
		assert.Equal(t, tc.label, label, tc.host)
	}
}
