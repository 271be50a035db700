package discovery

import (
	"net"
	"testing"
)

func TestNewService(t *testing.T) {
	s, err := newService("countersync-test", "127.0.0.1:8080")
	if err != nil {
		t.Fatalf("newService() failed: %v", err)
	}
	if s.Instance != "countersync-test" || s.Service != ServiceType || s.Port != 8080 {
		t.Errorf("newService() = %+v", s)
	}
	if len(s.IPs) != 1 || !s.IPs[0].Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("newService() IPs = %v, want [127.0.0.1]", s.IPs)
	}
}

func TestNewServiceInvalidAddress(t *testing.T) {
	for _, addr := range []string{"", "localhost", "example.com:8080", "127.0.0.1"} {
		if _, err := newService("countersync-test", addr); err == nil {
			t.Errorf("newService(%q) succeeded", addr)
		}
	}
}
