package entry

type Identifier struct {
	Domain string
	ID     string
}

// DeviceInfo describes the panel to the platforms.
type DeviceInfo struct {
	Identifiers  []Identifier
	Name         string
	Manufacturer string
	Model        string
	SerialNumber string
	Firmware     string
}

func deviceInfoFor(s Session) DeviceInfo {
	name := "SPC Panel"
	if site := s.Site(); site != "" {
		name = site
	} else if model := s.Model(); model != "" {
		name = model
	}
	return DeviceInfo{
		Identifiers:  []Identifier{{Domain: Domain, ID: s.SerialNumber()}},
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        s.Model(),
		SerialNumber: s.SerialNumber(),
		Firmware:     s.Firmware(),
	}
}
