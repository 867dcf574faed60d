package resolver

import (
	"net"
	"sort"
	"sync"
)

// Mux cable states.
const (
	MuxActive  = "active"
	MuxStandby = "standby"
)

// MuxView tracks which mux port owns each neighbor and the port's
// active/standby state. A neighbor is owned by a port either directly
// (its address is a configured server address of the cable) or through
// the FDB entry of its MAC.
type MuxView struct {
	mu        sync.RWMutex
	cables    map[string][]string // port -> server addresses
	serverIPs map[string]string   // address -> port
	states    map[string]string   // port -> active|standby
	fdb       map[string]string   // vlan|mac -> port
	neighbors map[string]string   // alias:ip -> mac
}

func newMuxView() *MuxView {
	return &MuxView{
		cables:    make(map[string][]string),
		serverIPs: make(map[string]string),
		states:    make(map[string]string),
		fdb:       make(map[string]string),
		neighbors: make(map[string]string),
	}
}

// normalizeIP strips any mask and canonicalizes the address text.
func normalizeIP(s string) string {
	if ip, _, err := net.ParseCIDR(s); err == nil {
		return ip.String()
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}

// SetCable registers a mux cable and its server addresses. It returns the
// subjects whose resolution may have changed.
func (m *MuxView) SetCable(port string, serverIPs ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	subjects := m.dropCableLocked(port)
	var ips []string
	for _, s := range serverIPs {
		if s == "" {
			continue
		}
		ip := normalizeIP(s)
		ips = append(ips, ip)
		m.serverIPs[ip] = port
	}
	m.cables[port] = ips
	return append(subjects, "port:"+port)
}

// RemoveCable forgets a mux cable and its state.
func (m *MuxView) RemoveCable(port string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cables[port]; !ok {
		return nil
	}
	subjects := m.dropCableLocked(port)
	delete(m.cables, port)
	delete(m.states, port)
	return append(subjects, "port:"+port)
}

func (m *MuxView) dropCableLocked(port string) []string {
	var subjects []string
	for _, ip := range m.cables[port] {
		if m.serverIPs[ip] == port {
			delete(m.serverIPs, ip)
		}
		subjects = append(subjects, m.neighborSubjectsLocked(ip)...)
	}
	return subjects
}

// neighborSubjectsLocked returns nbr subjects for every known neighbor
// with address ip.
func (m *MuxView) neighborSubjectsLocked(ip string) []string {
	var out []string
	for k := range m.neighbors {
		if _, nip := splitNeighbor(k); nip == ip {
			out = append(out, "nbr:"+k)
		}
	}
	sort.Strings(out)
	return out
}

func splitNeighbor(k string) (alias, ip string) {
	// IPv6 addresses contain colons; the alias never does.
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

// IsCable reports whether port is a configured mux cable.
func (m *MuxView) IsCable(port string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cables[port]
	return ok
}

// SetState records a port's mux state. It returns nil when the state did
// not change.
func (m *MuxView) SetState(port, state string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.stateLocked(port)
	m.states[port] = state
	if prev == state {
		return nil
	}
	return []string{"port:" + port}
}

// ClearState drops a port's mux state, which reverts it to active.
func (m *MuxView) ClearState(port string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.states[port]
	if !ok {
		return nil
	}
	delete(m.states, port)
	if prev == MuxActive {
		return nil
	}
	return []string{"port:" + port}
}

func (m *MuxView) stateLocked(port string) string {
	if s, ok := m.states[port]; ok {
		return s
	}
	return MuxActive
}

// State returns the port's mux state; an unknown port is active.
func (m *MuxView) State(port string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(port)
}

// IsStandby reports whether port is a mux cable in standby.
func (m *MuxView) IsStandby(port string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, cable := m.cables[port]
	return cable && m.stateLocked(port) == MuxStandby
}

// StandbyPorts returns every mux port currently in standby, sorted.
func (m *MuxView) StandbyPorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for port := range m.cables {
		if m.stateLocked(port) == MuxStandby {
			out = append(out, port)
		}
	}
	sort.Strings(out)
	return out
}

// SetFDB records the port a MAC was learned on.
func (m *MuxView) SetFDB(vlan, mac, port string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := vlan + "|" + mac
	if m.fdb[k] == port {
		return nil
	}
	m.fdb[k] = port
	return []string{"mac:" + k}
}

// RemoveFDB forgets a learned MAC.
func (m *MuxView) RemoveFDB(vlan, mac string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := vlan + "|" + mac
	if _, ok := m.fdb[k]; !ok {
		return nil
	}
	delete(m.fdb, k)
	return []string{"mac:" + k}
}

// SetNeighbor records a resolved neighbor and its MAC.
func (m *MuxView) SetNeighbor(alias, ip, mac string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := alias + ":" + normalizeIP(ip)
	if cur, ok := m.neighbors[k]; ok && cur == mac {
		return nil
	}
	m.neighbors[k] = mac
	return []string{"nbr:" + k}
}

// RemoveNeighbor forgets a neighbor.
func (m *MuxView) RemoveNeighbor(alias, ip string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := alias + ":" + normalizeIP(ip)
	if _, ok := m.neighbors[k]; !ok {
		return nil
	}
	delete(m.neighbors, k)
	return []string{"nbr:" + k}
}

// Neighbor returns the MAC of a known neighbor.
func (m *MuxView) Neighbor(alias, ip string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mac, ok := m.neighbors[alias+":"+normalizeIP(ip)]
	return mac, ok
}

// OwningPort returns the mux port that owns neighbor alias/ip, and the
// neighbor MAC when it is known.
func (m *MuxView) OwningPort(alias, ip string) (port, mac string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ip = normalizeIP(ip)
	mac = m.neighbors[alias+":"+ip]
	if p, ok := m.serverIPs[ip]; ok {
		return p, mac
	}
	if mac != "" {
		if p, ok := m.fdb[alias+"|"+mac]; ok {
			if _, cable := m.cables[p]; cable {
				return p, mac
			}
		}
	}
	return "", mac
}

// NeighborsOn returns the alias:ip of every known neighbor owned by port.
func (m *MuxView) NeighborsOn(port string) []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.neighbors))
	for k := range m.neighbors {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	var out []string
	for _, k := range keys {
		alias, ip := splitNeighbor(k)
		if p, _ := m.OwningPort(alias, ip); p == port {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
