// Package wire implements the fixed-size, little-endian struct framing
// exchanged by the intake and result-send protocols. Every frame is a
// struct of known size agreed on in advance by both sides, exactly as
// spec'd: no length prefix on these frames, only the 4-byte handshake
// exchanged in between.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is bumped whenever HostDescriptor, JobDef or CurrentJob
// change shape on the wire. Version mismatch is a hard reject, never a
// best-effort decode.
const ProtocolVersion uint8 = 1

// StrLen is the fixed buffer length backing every wire string field
// (name, user, group, socket path). Longer values are truncated on
// encode; this mirrors the original peer daemon's STRLEN convention.
const StrLen = 256

// Status values for HostDescriptor.Status.
const (
	StatusIdle uint8 = iota
	StatusBusy
	StatusZombie
)

// Unbounded marks a resource advertisement ("inf") on the wire.
const Unbounded uint64 = ^uint64(0)

// CurrentJob is the wire layout of spec.md's CurrentJob record.
type CurrentJob struct {
	HostID uint32
	JobID  uint32
	Name   [StrLen]byte
	User   [StrLen]byte
	Group  [StrLen]byte
	TimReq uint64
	MemReq uint64
	CPUReq uint64
}

// HostDescriptor is the wire layout of spec.md's HostDescriptor, prefixed
// to every outbound message and broadcast in every announcement.
type HostDescriptor struct {
	Version  uint8
	_        [3]byte // pad to keep ID 4-byte aligned; wire layout is explicit, not compiler-dependent
	ID       uint32
	Name     [StrLen]byte
	User     [StrLen]byte
	Group    [StrLen]byte
	Port     uint16
	_        [2]byte
	Socket   [StrLen]byte
	MemAvail uint64
	CPUAvail uint64
	TimAvail uint64
	Status   uint8
	_        [7]byte
	Current  CurrentJob
}

// JobDef is the wire layout of spec.md's JobDef.
type JobDef struct {
	Version uint8
	_       [3]byte
	ID      uint32
	MemReq  uint64
	CPUReq  uint64
	TimReq  uint64
	ArgSize uint32
	OptSize uint32
}

func putString(dst *[StrLen]byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[:], s)
}

func getString(src [StrLen]byte) string {
	n := bytes.IndexByte(src[:], 0)
	if n < 0 {
		n = len(src)
	}
	return string(src[:n])
}

// EncodeHostDescriptor packs a native HostDescriptor into its wire form.
func EncodeHostDescriptor(id uint32, name, user, group string, port uint16, socket string,
	memavail, cpuavail, timavail uint64, status uint8, cur CurrentJob) HostDescriptor {

	var h HostDescriptor
	h.Version = ProtocolVersion
	h.ID = id
	putString(&h.Name, name)
	putString(&h.User, user)
	putString(&h.Group, group)
	h.Port = port
	putString(&h.Socket, socket)
	h.MemAvail = memavail
	h.CPUAvail = cpuavail
	h.TimAvail = timavail
	h.Status = status
	h.Current = cur
	return h
}

// Strings returns the decoded Name/User/Group/Socket fields.
func (h HostDescriptor) Strings() (name, user, group, socket string) {
	return getString(h.Name), getString(h.User), getString(h.Group), getString(h.Socket)
}

// Strings returns the decoded Name/User/Group fields of a CurrentJob.
func (c CurrentJob) Strings() (name, user, group string) {
	return getString(c.Name), getString(c.User), getString(c.Group)
}

// WriteStruct writes a fixed-size value to w in wire byte order.
func WriteStruct(w io.Writer, v interface{}) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// ReadStruct reads a fixed-size value from r in wire byte order.
func ReadStruct(r io.Reader, v interface{}) error {
	return binary.Read(r, binary.LittleEndian, v)
}

// WriteHandshake writes the 4-byte handshake acknowledgement: non-zero
// means "proceed", zero means "reject/close".
func WriteHandshake(w io.Writer, ok bool) error {
	var v int32
	if ok {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

// ReadHandshake reads the 4-byte handshake acknowledgement.
func ReadHandshake(r io.Reader) (bool, error) {
	var v int32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadFull reads exactly n bytes, the way intake reads arg/opt payloads.
func ReadFull(r io.Reader, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("short read: %w", err)
	}
	return buf, nil
}
