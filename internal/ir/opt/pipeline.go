package opt

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/seraph/internal/ir"
)

// Level is an optimisation level, -O0 through -O3.
type Level int

const (
	O0 Level = iota
	O1
	O2
	O3
)

// ParseLevel accepts 0..3.
func ParseLevel(n int) (Level, error) {
	if n < 0 || n > 3 {
		return 0, fmt.Errorf("opt: invalid optimisation level %d", n)
	}
	return Level(n), nil
}

// Stats counts the instructions each pass changed.
type Stats struct {
	Folded     int
	Eliminated int
	Rounds     int
}

// Run applies the passes enabled at level to m in place.
//
//	O0  nothing
//	O1  constant folding
//	O2  folding then dead-code elimination
//	O3  folding and elimination repeated until neither changes anything
func Run(m *ir.Module, level Level, log *slog.Logger) Stats {
	if log == nil {
		log = slog.Default()
	}
	var st Stats
	for level > O0 {
		st.Rounds++
		f := FoldConstants(m)
		st.Folded += f
		d := 0
		if level >= O2 {
			d = EliminateDeadCode(m)
			st.Eliminated += d
		}
		log.Debug("optimiser round", "module", m.Name, "round", st.Rounds, "folded", f, "eliminated", d)
		if level < O3 || f+d == 0 {
			break
		}
	}
	return st
}
