package arm64

import "fmt"

// Register is an X register number. 31 means SP or XZR depending on the
// instruction.
type Register uint8

const (
	X0 Register = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP

	XZR = SP
	FP  = X29
	LR  = X30
)

func (r Register) String() string {
	switch {
	case r == SP:
		return "sp"
	case r < SP:
		return fmt.Sprintf("x%d", r)
	}
	return fmt.Sprintf("Register(%d)", r)
}

func (r Register) valid() bool { return r <= SP }

// Width is an access size in bytes.
type Width uint8

const (
	W8  Width = 1
	W16 Width = 2
	W32 Width = 4
	W64 Width = 8
)

// Cond is a condition code as encoded in B.cond and CSEL.
type Cond uint8

const (
	CondEQ Cond = iota
	CondNE
	CondHS
	CondLO
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI
	CondLS
	CondGE
	CondLT
	CondGT
	CondLE
	CondAL
)

// Invert returns the condition that holds exactly when c does not.
func (c Cond) Invert() Cond { return c ^ 1 }
