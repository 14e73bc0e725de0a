package node

import "testing"

func TestNormalizeHostPort(t *testing.T) {
	cases := map[string]string{
		"router.example.net":   "router.example.net:6881",
		"udp://10.0.0.1":       "10.0.0.1:6881",
		"udp://10.0.0.1:51413": "10.0.0.1:51413",
		"127.0.0.1:8008":       "127.0.0.1:8008",
		"dht.example.org:6882": "dht.example.org:6882",
	}
	for in, want := range cases {
		if got := NormalizeHostPort(in, DefaultPort); got != want {
			t.Fatalf("NormalizeHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePeer(t *testing.T) {
	ap, err := ResolvePeer("127.0.0.1")
	if err != nil {
		t.Fatalf("ResolvePeer: %v", err)
	}
	if ap.String() != "127.0.0.1:6881" {
		t.Fatalf("ResolvePeer = %s", ap)
	}
	if _, err := ResolvePeer("127.0.0.1:notaport"); err == nil {
		t.Fatalf("ResolvePeer accepted a bad port")
	}
}
