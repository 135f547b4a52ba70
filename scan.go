package unlocker

// remote ranges are read in chunks of this size
var scanChunkSize uintptr = 1 << 20

// ScanRange returns the lowest address in [start, end) where p matches.
// A match never extends past end. Unreadable regions are skipped when m
// can list them, otherwise a failed read aborts the scan.
func ScanRange(m Memory, p Pattern, start, end uintptr) (uintptr, bool, error) {
	plen := uintptr(p.Length())
	if plen == 0 || end <= start || end-start < plen {
		return 0, false, nil
	}

	spans, err := readableSpans(m, start, end)
	if err != nil {
		return 0, false, err
	}

	chunk := max(scanChunkSize, plen)
	buffer := make([]byte, chunk)

	for _, s := range spans {
		for pos := s.start; pos < s.end; {
			n := min(chunk, s.end-pos)
			if n < plen {
				break
			}
			if err := m.ReadMemory(pos, buffer[:n]); err != nil {
				return 0, false, err
			}
			if i := p.Find(buffer[:n]); i != -1 {
				return pos + uintptr(i), true, nil
			}
			if pos+n >= s.end {
				break
			}
			// keep the tail so matches crossing a chunk boundary are seen
			pos += n - (plen - 1)
		}
	}

	return 0, false, nil
}
