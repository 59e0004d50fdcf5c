package httpx

import (
	"strings"
	"testing"
)

func TestListenerCreation(t *testing.T) {
	tests := []struct {
		addr   string
		port   string
		random bool
		error  bool
	}{
		{addr: ":", random: true},
		{addr: ":0", random: true},
		{addr: "", random: true},
		{addr: "https://garbage.com:99a9a", error: true},
		{addr: "localhost:8888", port: "8888"},
		{addr: "localhost:abc1", error: true},
	}

	for _, test := range tests {
		ls, err := NewListener(test.addr, false)

		if test.error {
			if err == nil {
				t.Errorf("%v: expected error, but got none", test.addr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v: unexpected error %v", test.addr, err)
			continue
		}

		addr := ls.Addr().String()
		if test.random {
			if strings.HasSuffix(addr, ":0") {
				t.Errorf("%v: expected a random port, got %v", test.addr, addr)
			}
		} else if !strings.HasSuffix(addr, ":"+test.port) {
			t.Errorf("expected the same port %v, got %v", test.port, addr)
		}
		ls.Close()
	}
}

func TestFailOnPortInUse(t *testing.T) {
	a, err := NewListener("127.0.0.1:3333", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer a.Close()
	if _, err = NewListener("127.0.0.1:3333", false); err == nil {
		t.Error("expected busy port error, but got none")
	}
}

func TestListenerPortRoll(t *testing.T) {
	a, err := NewListener("127.0.0.1:3333", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer a.Close()
	b, err := NewListener("127.0.0.1:3333", true)
	if err != nil {
		t.Errorf("expected no port error, but got %v", err)
	}
	if b != nil {
		b.Close()
	}
}
