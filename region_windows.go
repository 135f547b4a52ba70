//go:build windows

package unlocker

// Regions lists the committed regions overlapping [start, end).
func (p *Process) Regions(start, end uintptr) ([]Region, error) {
	var regions []Region

	for ea := start; ea < end; {
		mbi, err := virtualQueryEx(p.Handle, ea)
		if err != nil {
			if len(regions) == 0 {
				return nil, accessError("query", ea, 0, err)
			}
			break
		}
		if mbi.RegionSize == 0 {
			break
		}
		regions = append(regions, Region{
			BaseAddress: mbi.BaseAddress,
			RegionSize:  mbi.RegionSize,
			Readable:    mbi.isReadable(),
		})
		ea = mbi.BaseAddress + mbi.RegionSize
	}

	return regions, nil
}
