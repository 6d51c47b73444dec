package backend

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/tinyrange/seraph/internal/ir"
)

// ListingEntry ties the machine code of one IR instruction to its text and
// source location.
type ListingEntry struct {
	Function string
	Offset   int
	Size     int
	Text     string
	Loc      ir.Location
}

// maxListingBytes caps the hex column; longer sequences are elided.
const maxListingBytes = 12

// WriteListing prints an annotated disassembly-free listing: per function,
// each IR instruction with the text offset and bytes it lowered to.
func (o *Output) WriteListing(w io.Writer, base uint64) error {
	bw := bufio.NewWriter(w)
	fn := ""
	for _, e := range o.Listing {
		if e.Function != fn {
			if fn != "" {
				fmt.Fprintln(bw)
			}
			fn = e.Function
			fmt.Fprintf(bw, "%s:\n", fn)
		}
		code := o.Code[e.Offset : e.Offset+e.Size]
		hex := fmt.Sprintf("% x", code)
		if len(code) > maxListingBytes {
			hex = fmt.Sprintf("% x ...", code[:maxListingBytes])
		}
		loc := ""
		if e.Loc.IsKnown() {
			loc = "  ; " + e.Loc.String()
		}
		fmt.Fprintf(bw, "  %08x  %-40s  %s%s\n", base+uint64(e.Offset), hex, strings.TrimSpace(e.Text), loc)
	}
	return bw.Flush()
}
