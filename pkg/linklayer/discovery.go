package linklayer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/identity"
)

const discoveryDomain = "local."

// DiscoveredPeer is one scan result: a peer advertising the mesh
// service, with the signal hint carried in its TXT record.
type DiscoveredPeer struct {
	NodeID identity.NodeID
	RSSI   int
}

// Advertiser publishes this node's presence via mDNS, adapted from the
// teacher's pkg/discovery/advertiser.go: the server sits behind the
// small mdnsServer interface, with the same random-instance-name + TXT
// record shape, generalized from Matter's commissionable/operational
// service types to a single mesh presence service.
type Advertiser struct {
	server  mdnsServer
	log     logging.LeveledLogger
	localID identity.NodeID
}

type mdnsServer interface {
	Shutdown()
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	LocalID       identity.NodeID
	ServiceName   string
	Port          int
	RSSI          int
	LoggerFactory logging.LoggerFactory
}

// StartAdvertiser registers the local node's mDNS presence record.
func StartAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	txt := []string{
		fmt.Sprintf("NID=%s", config.LocalID.String()),
		fmt.Sprintf("RSSI=%d", config.RSSI),
	}

	instanceName, err := randomInstanceName()
	if err != nil {
		return nil, fmt.Errorf("linklayer: generate instance name: %w", err)
	}

	server, err := zeroconf.Register(instanceName, config.ServiceName, discoveryDomain, config.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("linklayer: mdns register: %w", err)
	}

	a := &Advertiser{server: server, localID: config.LocalID}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("linklayer-discovery")
	}
	return a, nil
}

// Close stops advertising.
func (a *Advertiser) Close() error {
	a.server.Shutdown()
	return nil
}

func randomInstanceName() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016X", binary.BigEndian.Uint64(buf[:])), nil
}

// Scanner browses for peers advertising the mesh service, adapted from
// the teacher's pkg/discovery/resolver.go Browse flow.
type Scanner struct {
	resolver    *zeroconf.Resolver
	serviceName string
}

// NewScanner constructs a Scanner for the given service name.
func NewScanner(serviceName string) (*Scanner, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("linklayer: new mdns resolver: %w", err)
	}
	return &Scanner{resolver: resolver, serviceName: serviceName}, nil
}

// Scan browses once and delivers discovered peers to results until ctx
// is cancelled. Entries from the local node (matching self) are the
// caller's responsibility to filter.
func (s *Scanner) Scan(ctx context.Context, results chan<- DiscoveredPeer) error {
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			peer, ok := parseDiscoveredPeer(entry)
			if !ok {
				continue
			}
			select {
			case results <- peer:
			case <-ctx.Done():
				return
			}
		}
	}()
	return s.resolver.Browse(ctx, s.serviceName, discoveryDomain, entries)
}

func parseDiscoveredPeer(entry *zeroconf.ServiceEntry) (DiscoveredPeer, bool) {
	var peer DiscoveredPeer
	var nodeIDStr string
	for _, field := range entry.Text {
		key, value, ok := splitTXT(field)
		if !ok {
			continue
		}
		switch key {
		case "NID":
			nodeIDStr = value
		case "RSSI":
			fmt.Sscanf(value, "%d", &peer.RSSI)
		}
	}
	if nodeIDStr == "" {
		return DiscoveredPeer{}, false
	}
	id, err := identity.ParseNodeID(nodeIDStr)
	if err != nil {
		return DiscoveredPeer{}, false
	}
	peer.NodeID = id
	return peer, true
}

func splitTXT(field string) (key, value string, ok bool) {
	for i := 0; i < len(field); i++ {
		if field[i] == '=' {
			return field[:i], field[i+1:], true
		}
	}
	return "", "", false
}
