package unlocker

// Region is a range of the target address space with uniform protection.
type Region struct {
	BaseAddress uintptr
	RegionSize  uintptr
	Readable    bool
}

func (r Region) End() uintptr {
	return r.BaseAddress + r.RegionSize
}

// RegionLister is implemented by Memory that can tell readable ranges
// apart. Scans over Memory without it read the whole range blindly.
type RegionLister interface {
	Regions(start, end uintptr) ([]Region, error)
}

type span struct {
	start, end uintptr
}

// readableSpans clips the readable regions to [start, end) and merges
// adjacent ones, so that matches may cross region boundaries.
func readableSpans(m Memory, start, end uintptr) ([]span, error) {
	lister, ok := m.(RegionLister)
	if !ok {
		return []span{{start, end}}, nil
	}

	regions, err := lister.Regions(start, end)
	if err != nil {
		return nil, err
	}

	var spans []span
	for _, r := range regions {
		if !r.Readable {
			continue
		}
		s, e := max(r.BaseAddress, start), min(r.End(), end)
		if s >= e {
			continue
		}
		if n := len(spans); n > 0 && spans[n-1].end == s {
			spans[n-1].end = e
			continue
		}
		spans = append(spans, span{s, e})
	}
	return spans, nil
}
