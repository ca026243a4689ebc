package resolver

import "net"

// specialCase implements §4.5 "Specials": a query name of "*" or a
// literal address for an address query short-circuits without any packet
// traffic.
func specialCase(name string, qtype RRType) ([]Answer, bool) {
	if name == "*" {
		switch qtype {
		case TypeA:
			return []Answer{{Name: name, Type: TypeA, Addr: net.IPv4zero}}, true
		case TypeAAAA:
			return []Answer{{Name: name, Type: TypeAAAA, Addr: net.IPv6zero}}, true
		}
		return nil, false
	}

	ip := net.ParseIP(name)
	if ip == nil {
		return nil, false
	}
	if ip4 := ip.To4(); ip4 != nil && qtype == TypeA {
		return []Answer{{Name: name, Type: TypeA, Addr: ip4}}, true
	}
	if ip.To4() == nil && qtype == TypeAAAA {
		return []Answer{{Name: name, Type: TypeAAAA, Addr: ip}}, true
	}
	return nil, false
}
