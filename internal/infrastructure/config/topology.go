package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/kriging"
	"github.com/farmsense/hub/internal/orchestrator"
)

// TopologyFile is the on-disk shape of the hub's static sensor/field/zone
// map (§4.10a "sensor/field topology"). The reference hardcodes its layout
// in _configure_pilot_sensors; this hub loads the same information from a
// small JSON file instead, so adding a field or moving a sensor doesn't
// require a rebuild.
type TopologyFile struct {
	HubFieldID string       `json:"hub_field_id"`
	Fields     []fieldEntry `json:"fields"`
}

type fieldEntry struct {
	ID      string        `json:"id"`
	Bounds  boundsEntry   `json:"bounds"`
	Sensors []sensorEntry `json:"sensors"`
	Zones   []zoneEntry   `json:"zones"`
}

type boundsEntry struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

type sensorEntry struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	ZoneID    string  `json:"zone_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depths    []int   `json:"depths,omitempty"`
}

type zoneEntry struct {
	ID       string      `json:"id"`
	Bounds   boundsEntry `json:"bounds"`
	CropTag  string      `json:"crop_tag"`
	ValveIDs []string    `json:"valve_ids"`
}

// LoadTopology reads and parses a TopologyFile, converting it into the
// orchestrator's runtime Topology.
func LoadTopology(path string) (orchestrator.Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.Topology{}, fmt.Errorf("load topology: %w", err)
	}

	var file TopologyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return orchestrator.Topology{}, fmt.Errorf("parse topology: %w", err)
	}

	fields := make([]orchestrator.Field, 0, len(file.Fields))
	for _, fe := range file.Fields {
		sensors := make([]domain.Sensor, 0, len(fe.Sensors))
		for _, se := range fe.Sensors {
			sensors = append(sensors, domain.NewSensor(
				se.ID, domain.SensorKind(se.Kind), fe.ID, se.ZoneID,
				se.Latitude, se.Longitude, se.Depths,
			))
		}

		zones := make([]orchestrator.Zone, 0, len(fe.Zones))
		for _, ze := range fe.Zones {
			zones = append(zones, orchestrator.Zone{
				ID:       ze.ID,
				FieldID:  fe.ID,
				Bounds:   toKrigingBounds(ze.Bounds),
				CropTag:  ze.CropTag,
				ValveIDs: ze.ValveIDs,
			})
		}

		fields = append(fields, orchestrator.Field{
			ID:      fe.ID,
			Bounds:  toKrigingBounds(fe.Bounds),
			Sensors: sensors,
			Zones:   zones,
		})
	}

	return orchestrator.Topology{HubFieldID: file.HubFieldID, Fields: fields}, nil
}

func toKrigingBounds(b boundsEntry) kriging.Bounds {
	return kriging.Bounds{MinLat: b.MinLat, MinLon: b.MinLon, MaxLat: b.MaxLat, MaxLon: b.MaxLon}
}
