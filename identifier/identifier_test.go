package identifier

import (
	"net"
	"testing"

	"github.com/pickyca/picky-ca/internal/testutil"
)

func TestNormalizeLowercasesDNSNames(t *testing.T) {
	names := GeneralNames{NewDNS("Example.COM")}.Normalize()
	testutil.AssertEquals(t, len(names), 1)
	testutil.AssertEquals(t, names[0].Value, "example.com")
}

func TestNormalizeDedupesAndSorts(t *testing.T) {
	names := GeneralNames{
		NewDNS("b.example.com"),
		NewDNS("a.example.com"),
		NewDNS("a.example.com"),
		NewIP(net.ParseIP("10.0.0.1")),
	}.Normalize()

	if len(names) != 3 {
		t.Fatalf("expected 3 deduplicated names, got %d: %+v", len(names), names)
	}
	testutil.AssertEquals(t, names[0].Value, "a.example.com")
	testutil.AssertEquals(t, names[1].Value, "b.example.com")
	testutil.AssertEquals(t, names[2].Type, TypeIP)
}

func TestFromCommonNameAndAltNamesFoldsCommonNameIn(t *testing.T) {
	names := FromCommonNameAndAltNames("example.com", []string{"www.example.com"}, nil)
	dns := names.DNSNames()
	if len(dns) != 2 {
		t.Fatalf("expected 2 DNS names, got %d: %v", len(dns), dns)
	}
}

func TestEmptyReportsNoMembers(t *testing.T) {
	var names GeneralNames
	if !names.Empty() {
		t.Fatal("expected a nil set to be empty")
	}
	names = append(names, NewDNS("example.com"))
	if names.Empty() {
		t.Fatal("expected a populated set to not be empty")
	}
}

func TestIPsRoundTrip(t *testing.T) {
	ip := net.ParseIP("192.0.2.1")
	names := NewIPSlice([]net.IP{ip})
	got := names.IPs()
	if len(got) != 1 || !got[0].Equal(ip) {
		t.Fatalf("expected %v, got %v", ip, got)
	}
}
