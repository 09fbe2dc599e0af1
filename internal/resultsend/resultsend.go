// Package resultsend implements the client side of the result-delivery
// protocol, symmetric to intake: it is how the slave loop mails a
// finished job's output back to the peer that submitted it.
package resultsend

import (
	"fmt"
	"net"

	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
)

// Result is what the slave loop delivers back to a submitter.
type Result struct {
	JobID   uint32
	Argout  []byte
	Options []byte
}

// Send opens network/address, runs the five-step result handshake, and
// returns once the exchange is complete (or aborts silently on any
// handshake/short-write failure, per spec.md §4.5 — the submitter's own
// timeout handles the rest).
func Send(network, address string, self registry.HostDescriptor, result Result) error {
	conn, err := net.Dial(network, address)
	if err != nil {
		return fmt.Errorf("resultsend: dial %s %s: %w", network, address, err)
	}
	defer conn.Close()

	// Step 1: read initial handshake.
	ok, err := wire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("resultsend: read initial handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("resultsend: peer refused connection")
	}

	// Step 2: write own HostDescriptor.
	wireSelf := registry.ToWireHost(self)
	if err := wire.WriteStruct(conn, &wireSelf); err != nil {
		return fmt.Errorf("resultsend: write host descriptor: %w", err)
	}
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("resultsend: read host handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("resultsend: peer rejected host descriptor")
	}

	// Step 3: write JobDef with zeroed resource fields.
	def := wire.JobDef{
		Version: wire.ProtocolVersion,
		ID:      result.JobID,
		ArgSize: uint32(len(result.Argout)),
		OptSize: uint32(len(result.Options)),
	}
	if err := wire.WriteStruct(conn, &def); err != nil {
		return fmt.Errorf("resultsend: write job def: %w", err)
	}
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("resultsend: read jobdef handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("resultsend: peer rejected job def")
	}

	// Step 4: write argout.
	if _, err := conn.Write(result.Argout); err != nil {
		return fmt.Errorf("resultsend: write argout: %w", err)
	}
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("resultsend: read argout handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("resultsend: peer rejected argout")
	}

	// Step 5: write options.
	if _, err := conn.Write(result.Options); err != nil {
		return fmt.Errorf("resultsend: write options: %w", err)
	}
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("resultsend: read options handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("resultsend: peer rejected options")
	}

	return nil
}

// Destination resolves which transport to use for delivering a result to
// a peer: UDS if the peer is on this host and advertises a socket path,
// TCP otherwise. Mirrors spec.md §4.4 step 10.
func Destination(self registry.HostDescriptor, peer registry.PeerEntry) (network, address string, ok bool) {
	hasUDS := peer.Host.Socket != "" && peer.Host.Name == self.Name
	if hasUDS {
		return "unix", peer.Host.Socket, true
	}
	if peer.Host.Port > 0 {
		return "tcp", fmt.Sprintf("%s:%d", peer.IPAddr, peer.Host.Port), true
	}
	return "", "", false
}
