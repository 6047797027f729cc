package patientflow

// defaultZoneMinutes is the typical time a patient spends in each zone.
var defaultZoneMinutes = map[Department]int{
	Registration: 5,
	Refraction:   12,
	Dilation:     25,
	Consultation: 15,
	Tests:        20,
	Counseling:   10,
	Pharmacy:     8,
}

const fallbackZoneMinutes = 15

// ZoneTimes supplies per-zone timing used for wait estimates.
type ZoneTimes interface {
	// AvgMinutes is the average service time of a zone.
	AvgMinutes(d Department) int
	// DefaultWait is the advisory wait assigned when a patient enters a zone.
	DefaultWait(d Department) int
}

// ZoneDirectory is a static ZoneTimes table.
type ZoneDirectory struct {
	minutes map[Department]int
}

// NewZoneDirectory builds a directory from the given averages, falling back
// to the built-in table for zones not listed.
func NewZoneDirectory(overrides map[Department]int) *ZoneDirectory {
	m := make(map[Department]int, len(defaultZoneMinutes))
	for d, v := range defaultZoneMinutes {
		m[d] = v
	}
	for d, v := range overrides {
		if v > 0 {
			m[d] = v
		}
	}
	return &ZoneDirectory{minutes: m}
}

// DefaultZoneDirectory returns the built-in zone timings.
func DefaultZoneDirectory() *ZoneDirectory {
	return NewZoneDirectory(nil)
}

func (z *ZoneDirectory) AvgMinutes(d Department) int {
	if v, ok := z.minutes[d]; ok {
		return v
	}
	return fallbackZoneMinutes
}

func (z *ZoneDirectory) DefaultWait(d Department) int {
	return z.AvgMinutes(d)
}
