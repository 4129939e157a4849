package neighborhood

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
)

// NodeReference is the human-entered form of a neighbor: a public key
// plus an optional address, as accepted by --neighbor and produced for
// display. Grounded on the teacher's descriptor.ParseDescriptor
// line-by-line field-extraction idiom, adapted to a single colon-joined
// string instead of a multi-line descriptor document.
type NodeReference struct {
	PublicKey cryptde.PublicKey
	NodeAddr  *nodeaddr.NodeAddr
}

// String renders "<public-key-base64>:<ip-or-empty>:<port-csv-or-empty>".
func (r NodeReference) String() string {
	key := base64.StdEncoding.EncodeToString(r.PublicKey)
	if r.NodeAddr == nil {
		return key + "::"
	}
	ports := make([]string, len(r.NodeAddr.Ports))
	for i, p := range r.NodeAddr.Ports {
		ports[i] = strconv.Itoa(int(p))
	}
	return fmt.Sprintf("%s:%s:%s", key, r.NodeAddr.IP.String(), strings.Join(ports, ","))
}

// ParseNodeReference parses the three field-optional combinations spec §6
// requires: key only, key+ip+ports, and key with no address at all.
func ParseNodeReference(s string) (NodeReference, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) == 0 || parts[0] == "" {
		return NodeReference{}, fmt.Errorf("neighborhood: empty public key in node reference %q", s)
	}

	key, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return NodeReference{}, fmt.Errorf("neighborhood: invalid public key in node reference %q: %w", s, err)
	}
	ref := NodeReference{PublicKey: cryptde.PublicKey(key)}

	if len(parts) == 1 {
		return ref, nil
	}

	ipPart := parts[1]
	if ipPart == "" {
		return ref, nil
	}
	ip := net.ParseIP(ipPart)
	if ip == nil {
		return NodeReference{}, fmt.Errorf("neighborhood: invalid IP %q in node reference %q", ipPart, s)
	}

	var ports []uint16
	if len(parts) == 3 && parts[2] != "" {
		for _, ps := range strings.Split(parts[2], ",") {
			n, err := strconv.ParseUint(ps, 10, 16)
			if err != nil {
				return NodeReference{}, fmt.Errorf("neighborhood: invalid port %q in node reference %q: %w", ps, s, err)
			}
			ports = append(ports, uint16(n))
		}
	}

	ref.NodeAddr = &nodeaddr.NodeAddr{IP: ip, Ports: ports}
	return ref, nil
}
