package unlocker

import (
	"fmt"
	"strconv"
	"strings"
)

type Pattern struct {
	data []int // -1 means wildcard
}

func (p Pattern) Length() int {
	return len(p.data)
}

func (p Pattern) String() string {
	s := ""
	for _, c := range p.data {
		if c == -1 {
			s += "?? "
		} else {
			s += fmt.Sprintf("%02X ", c)
		}
	}
	return strings.TrimSpace(s)
}

// Find returns the offset of the first full match inside buffer, or -1.
func (p Pattern) Find(buffer []byte) int {
	return p.findFrom(buffer, 0)
}

func (p Pattern) findFrom(buffer []byte, from int) int {
	if len(p.data) == 0 {
		return -1
	}
	for i := from; i+len(p.data) <= len(buffer); i++ {
		if p.data[0] == -1 || int(buffer[i]) == p.data[0] {
			found := true
			for j := 1; j < len(p.data); j++ {
				if p.data[j] != -1 && int(buffer[i+j]) != p.data[j] {
					found = false
					break
				}
			}
			if found {
				return i
			}
		}
	}
	return -1
}

func (p *Pattern) FromHexString(s string) {
	p.data = []int{}
	for _, c := range strings.Fields(s) {
		if c == "?" || c == "??" {
			p.data = append(p.data, -1)
		} else {
			x, err := strconv.ParseUint(string(c), 16, 8)
			if err != nil {
				panic(err)
			}
			p.data = append(p.data, int(x))
		}
	}
}

// FromMask builds the pattern from a signature and an "x?" mask of equal
// length, 'x' meaning the byte must match.
func (p *Pattern) FromMask(sig []byte, mask string) {
	if len(sig) != len(mask) {
		panic(fmt.Sprintf("pattern: signature is %d bytes, mask is %d", len(sig), len(mask)))
	}
	p.data = make([]int, len(sig))
	for i := range sig {
		if mask[i] == '?' {
			p.data[i] = -1
		} else {
			p.data[i] = int(sig[i])
		}
	}
}

func ParsePattern(src string) Pattern {
	p := Pattern{}
	p.FromHexString(src)
	return p
}

func MaskedPattern(sig []byte, mask string) Pattern {
	p := Pattern{}
	p.FromMask(sig, mask)
	return p
}
