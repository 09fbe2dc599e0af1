package registry

import "github.com/distcomp/peerslave/internal/wire"

// ToWireCurrentJob converts a native CurrentJob to its wire form.
func ToWireCurrentJob(c CurrentJob) wire.CurrentJob {
	var w wire.CurrentJob
	w.HostID = c.HostID
	w.JobID = c.JobID
	copyStr(&w.Name, c.Name)
	copyStr(&w.User, c.User)
	copyStr(&w.Group, c.Group)
	w.TimReq = c.TimReq
	w.MemReq = c.MemReq
	w.CPUReq = c.CPUReq
	return w
}

// FromWireCurrentJob converts a wire CurrentJob to its native form.
func FromWireCurrentJob(w wire.CurrentJob) CurrentJob {
	name, user, group := w.Strings()
	return CurrentJob{
		HostID: w.HostID,
		JobID:  w.JobID,
		Name:   name,
		User:   user,
		Group:  group,
		TimReq: w.TimReq,
		MemReq: w.MemReq,
		CPUReq: w.CPUReq,
	}
}

// ToWireHost converts a native HostDescriptor to its wire form.
func ToWireHost(h HostDescriptor) wire.HostDescriptor {
	return wire.EncodeHostDescriptor(
		h.ID, h.Name, h.User, h.Group, h.Port, h.Socket,
		h.MemAvail, h.CPUAvail, h.TimAvail, uint8(h.Status),
		ToWireCurrentJob(h.Current),
	)
}

// FromWireHost converts a wire HostDescriptor to its native form.
func FromWireHost(w wire.HostDescriptor) HostDescriptor {
	name, user, group, socket := w.Strings()
	return HostDescriptor{
		ID:       w.ID,
		Name:     name,
		User:     user,
		Group:    group,
		Port:     w.Port,
		Socket:   socket,
		MemAvail: w.MemAvail,
		CPUAvail: w.CPUAvail,
		TimAvail: w.TimAvail,
		Status:   Status(w.Status),
		Current:  FromWireCurrentJob(w.Current),
	}
}

// ToWireJobDef converts a native JobDef to its wire form.
func ToWireJobDef(d JobDef) wire.JobDef {
	return wire.JobDef{
		Version: d.Version,
		ID:      d.ID,
		MemReq:  d.MemReq,
		CPUReq:  d.CPUReq,
		TimReq:  d.TimReq,
		ArgSize: d.ArgSize,
		OptSize: d.OptSize,
	}
}

// FromWireJobDef converts a wire JobDef to its native form.
func FromWireJobDef(w wire.JobDef) JobDef {
	return JobDef{
		Version: w.Version,
		ID:      w.ID,
		MemReq:  w.MemReq,
		CPUReq:  w.CPUReq,
		TimReq:  w.TimReq,
		ArgSize: w.ArgSize,
		OptSize: w.OptSize,
	}
}

func copyStr(dst *[wire.StrLen]byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[:], s)
}
