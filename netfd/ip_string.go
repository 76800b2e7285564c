package netfd

import "net"

func netIPString(b []byte) string {
	return net.IP(b).String()
}
