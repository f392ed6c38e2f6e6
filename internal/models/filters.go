package models

// Filters narrows the active frame mask by calendar metadata and by which
// half of a two-part dataset is active. A Filters value is "default" when it
// admits every frame.
type Filters struct {
	Weekdays     [7]bool // bitmask[7]: which days of week are admitted
	HourFrom     int
	HourTo       int
	YearFrom     int
	YearTo       int
	DatasetParts [2]bool
}

// DefaultFilters returns the all-admitting filter set.
func DefaultFilters() Filters {
	f := Filters{
		HourFrom:     0,
		HourTo:       23,
		YearFrom:     0,
		YearTo:       9999,
		DatasetParts: [2]bool{true, true},
	}
	for i := range f.Weekdays {
		f.Weekdays[i] = true
	}
	return f
}

// IsDefault reports whether the filter admits every frame.
func (f Filters) IsDefault() bool {
	def := DefaultFilters()
	if f.HourFrom != def.HourFrom || f.HourTo != def.HourTo {
		return false
	}
	if f.YearFrom != def.YearFrom || f.YearTo != def.YearTo {
		return false
	}
	if f.DatasetParts != def.DatasetParts {
		return false
	}
	for i := range f.Weekdays {
		if !f.Weekdays[i] {
			return false
		}
	}
	return true
}

// DatasetPartsValidInterval maps the two-part dataset toggle to a half-open
// [from, to) range of frame IDs over a dataset of the given size. Disabling
// a part excludes its contiguous half.
func (f Filters) DatasetPartsValidInterval(numFrames int) (int, int) {
	half := numFrames / 2
	switch {
	case f.DatasetParts[0] && f.DatasetParts[1]:
		return 0, numFrames
	case f.DatasetParts[0]:
		return 0, half
	case f.DatasetParts[1]:
		return half, numFrames
	default:
		return 0, 0
	}
}
