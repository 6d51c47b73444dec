package ir

import (
	"bytes"
	"fmt"

	"github.com/tinyrange/seraph/internal/arena"
)

// UnescapeString processes the escape sequences \n \r \t \\ \" \' \0 and
// \xNN.
func UnescapeString(raw []byte) ([]byte, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(raw) {
			return nil, fmt.Errorf("ir: trailing backslash in string literal")
		}
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '\\':
			out = append(out, '\\')
		case '"':
			out = append(out, '"')
		case '\'':
			out = append(out, '\'')
		case '0':
			out = append(out, 0)
		case 'x':
			if i+2 >= len(raw) {
				return nil, fmt.Errorf("ir: truncated \\x escape")
			}
			hi, ok1 := hexDigit(raw[i+1])
			lo, ok2 := hexDigit(raw[i+2])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("ir: invalid \\x escape %q", raw[i-1:i+3])
			}
			out = append(out, hi<<4|lo)
			i += 2
		default:
			return nil, fmt.Errorf("ir: unknown escape \\%c", raw[i])
		}
	}
	return out, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// InternString escape-processes raw and adds it to the module's string
// table. Identical processed strings share one entry.
func (m *Module) InternString(raw []byte) (*StringConst, error) {
	processed, err := UnescapeString(raw)
	if err != nil {
		return nil, err
	}
	for s := m.strings; s != nil; s = s.next {
		if bytes.Equal(s.Bytes, processed) {
			return s, nil
		}
	}
	sc, err := arena.Alloc[StringConst](m.arena)
	if err != nil {
		return nil, err
	}
	buf, err := arena.CopyBytes(m.arena, processed)
	if err != nil {
		return nil, err
	}
	sc.ID = m.numStrings
	sc.Bytes = buf
	sc.next = m.strings
	m.strings = sc
	m.numStrings++
	return sc, nil
}
