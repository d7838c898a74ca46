package domain

// Sensor is a stable, immutable-after-installation identity for a physical
// soil-moisture probe. See SPEC_FULL §3a for the depth sets installed per kind.
type Sensor struct {
	ID              string
	Kind            SensorKind
	FieldID         string
	ZoneID          string
	Latitude        float64
	Longitude       float64
	InstalledDepths []int
}

// HasDepth reports whether inches is one of the sensor's installed depths.
func (s Sensor) HasDepth(inches int) bool {
	for _, d := range s.InstalledDepths {
		if d == inches {
			return true
		}
	}
	return false
}

// NewSensor constructs a Sensor, defaulting InstalledDepths to the kind's
// standard set when the caller does not override it.
func NewSensor(id string, kind SensorKind, fieldID, zoneID string, lat, lon float64, depths []int) Sensor {
	if depths == nil {
		depths = kind.InstalledDepths()
	}
	return Sensor{
		ID:              id,
		Kind:            kind,
		FieldID:         fieldID,
		ZoneID:          zoneID,
		Latitude:        lat,
		Longitude:       lon,
		InstalledDepths: depths,
	}
}
