package util

import (
	"net"
	"testing"
)

func Test_AdvertiseAddr(t *testing.T) {
	if got := AdvertiseAddr("10.1.2.3:10086"); got != "10.1.2.3:10086" {
		t.Errorf("explicit host rewritten: %s", got)
	}
	if got := AdvertiseAddr("garbage"); got != "garbage" {
		t.Errorf("unparsable address rewritten: %s", got)
	}

	got := AdvertiseAddr(":10086")
	host, port, err := net.SplitHostPort(got)
	if nil != err || port != "10086" || nil == net.ParseIP(host) {
		t.Errorf("advertise %s", got)
	}
}
