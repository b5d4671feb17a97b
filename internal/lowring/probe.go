//go:build linux

package lowring

import (
	"github.com/ringforge/uringrt/internal/sys"
)

// Probe reports which opcodes the running kernel actually implements,
// queried once at ring creation so the descriptor layer can fail fast
// with ErrKernelTooOld instead of discovering a missing opcode from a
// stream of -EINVAL completions.
type Probe struct {
	probe    sys.Probe
	features uint32
}

// Probe queries the kernel for supported operations.
func (r *Ring) Probe() (*Probe, error) {
	p := &Probe{
		features: r.features,
	}
	err := sys.RegisterProbe(r.fd, &p.probe)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SupportsOp returns true if the kernel supports the given operation.
func (p *Probe) SupportsOp(op sys.Op) bool {
	if uint8(op) > p.probe.LastOp {
		return false
	}
	return p.probe.Ops[op].Flags&sys.IO_URING_OP_SUPPORTED != 0
}
