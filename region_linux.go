//go:build linux

package unlocker

// Regions lists the mappings overlapping [start, end).
func (p *Process) Regions(start, end uintptr) ([]Region, error) {
	maps, err := p.maps()
	if err != nil {
		return nil, err
	}

	var regions []Region
	for _, m := range maps {
		if m.End <= start || m.Start >= end {
			continue
		}
		regions = append(regions, Region{
			BaseAddress: m.Start,
			RegionSize:  m.End - m.Start,
			Readable:    m.Readable,
		})
	}
	return regions, nil
}
