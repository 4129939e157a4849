package proxyserver

import (
	"bytes"
	"strconv"
	"strings"
)

// sniffResult is what sniffing the client's first bytes tells ProxyServer
// about where to route the stream.
type sniffResult struct {
	host     string
	port     uint16
	protocol protocolTag
}

type protocolTag uint8

const (
	protoHTTP protocolTag = iota
	protoTLS
)

// sniff classifies the first bytes of a client connection as HTTP (a
// request line followed by a Host header) or TLS (a ClientHello carrying
// an SNI extension), extracting the target host and port in either case.
// Unrecognized leading bytes are rejected — this proxy only forwards
// traffic whose destination it can determine without a CONNECT handshake.
func sniff(b []byte) (sniffResult, bool) {
	if len(b) >= 3 && b[0] == 0x16 && b[1] == 0x03 {
		return sniffTLS(b)
	}
	return sniffHTTP(b)
}

func sniffHTTP(b []byte) (sniffResult, bool) {
	lines := bytes.Split(b, []byte("\r\n"))
	if len(lines) == 0 {
		return sniffResult{}, false
	}
	requestLine := string(lines[0])
	fields := strings.Fields(requestLine)
	if len(fields) < 3 {
		return sniffResult{}, false
	}
	switch fields[0] {
	case "GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "CONNECT":
	default:
		return sniffResult{}, false
	}

	var hostHeader string
	for _, line := range lines[1:] {
		s := string(line)
		if len(s) >= 5 && strings.EqualFold(s[:5], "Host:") {
			hostHeader = strings.TrimSpace(s[5:])
			break
		}
	}
	if hostHeader == "" {
		return sniffResult{}, false
	}

	host, port := splitHostPort(hostHeader, 80)
	return sniffResult{host: host, port: port, protocol: protoHTTP}, true
}

// sniffTLS extracts the SNI server_name extension from a TLS 1.x
// ClientHello record. Malformed or SNI-less ClientHellos are rejected —
// this proxy has no other way to learn the intended host.
func sniffTLS(b []byte) (sniffResult, bool) {
	// TLS record: type(1) version(2) length(2) [handshake...]
	if len(b) < 5 {
		return sniffResult{}, false
	}
	recordLen := int(b[3])<<8 | int(b[4])
	body := b[5:]
	if len(body) > recordLen {
		body = body[:recordLen]
	}
	// Handshake header: type(1)==1(ClientHello) length(3)
	if len(body) < 4 || body[0] != 0x01 {
		return sniffResult{}, false
	}
	p := body[4:]
	// legacy_version(2) random(32)
	if len(p) < 34 {
		return sniffResult{}, false
	}
	p = p[34:]
	// session_id
	if len(p) < 1 {
		return sniffResult{}, false
	}
	sidLen := int(p[0])
	p = p[1:]
	if len(p) < sidLen {
		return sniffResult{}, false
	}
	p = p[sidLen:]
	// cipher_suites
	if len(p) < 2 {
		return sniffResult{}, false
	}
	csLen := int(p[0])<<8 | int(p[1])
	p = p[2:]
	if len(p) < csLen {
		return sniffResult{}, false
	}
	p = p[csLen:]
	// compression_methods
	if len(p) < 1 {
		return sniffResult{}, false
	}
	cmLen := int(p[0])
	p = p[1:]
	if len(p) < cmLen {
		return sniffResult{}, false
	}
	p = p[cmLen:]
	// extensions
	if len(p) < 2 {
		return sniffResult{}, false
	}
	extLen := int(p[0])<<8 | int(p[1])
	p = p[2:]
	if len(p) < extLen {
		return sniffResult{}, false
	}
	p = p[:extLen]

	for len(p) >= 4 {
		extType := int(p[0])<<8 | int(p[1])
		thisExtLen := int(p[2])<<8 | int(p[3])
		p = p[4:]
		if len(p) < thisExtLen {
			return sniffResult{}, false
		}
		extBody := p[:thisExtLen]
		p = p[thisExtLen:]
		if extType != 0 { // server_name
			continue
		}
		// server_name_list: list_len(2) [name_type(1) name_len(2) name]*
		if len(extBody) < 2 {
			continue
		}
		list := extBody[2:]
		for len(list) >= 3 {
			nameType := list[0]
			nameLen := int(list[1])<<8 | int(list[2])
			list = list[3:]
			if len(list) < nameLen {
				break
			}
			name := list[:nameLen]
			list = list[nameLen:]
			if nameType == 0 {
				return sniffResult{host: string(name), port: 443, protocol: protoTLS}, true
			}
		}
	}
	return sniffResult{}, false
}

func splitHostPort(hostport string, defaultPort uint16) (string, uint16) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, defaultPort
	}
	port, err := strconv.ParseUint(hostport[idx+1:], 10, 16)
	if err != nil {
		return hostport, defaultPort
	}
	return hostport[:idx], uint16(port)
}
