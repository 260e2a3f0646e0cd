package homeassistant

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ComponentSensor is the Home Assistant component type of every entity
const ComponentSensor = "sensor"

// NodeID identifies this service in discovery topics and unique ids
const NodeID = "birdwatch"

// MessagePublisher sends MQTT messages. It is implemented by mqtt.Client.
type MessagePublisher interface {
	Publish(topic string, payload any) error
	PublishRetain(topic string, payload any) error
}

// SensorConfig is the MQTT discovery payload of one sensor
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	Icon                string  `json:"icon,omitempty"`
	UnitOfMeasurement   string  `json:"unit_of_measurement,omitempty"`
	DeviceClass         string  `json:"device_class,omitempty"`
	StateClass          string  `json:"state_class,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device groups the sensors in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// sensor describes one value of the state payload
type sensor struct {
	key         string
	name        string
	icon        string
	unit        string
	deviceClass string
	stateClass  string
}

var sensors = []sensor{
	{key: "status", name: "Status", icon: "mdi:bird"},
	{key: "motion_events", name: "Motion events", icon: "mdi:motion-sensor", stateClass: "total_increasing"},
	{key: "total_detections", name: "Detections", icon: "mdi:eye", stateClass: "total_increasing"},
	{key: "person", name: "Persons", icon: "mdi:account", stateClass: "total_increasing"},
	{key: "dog", name: "Dogs", icon: "mdi:dog", stateClass: "total_increasing"},
	{key: "bird", name: "Birds", icon: "mdi:bird", stateClass: "total_increasing"},
	{key: "detection_rate", name: "Detection rate", icon: "mdi:percent", unit: "%", stateClass: "measurement"},
	{key: "last_species", name: "Last species", icon: "mdi:feather"},
	{key: "last_detection", name: "Last detection", deviceClass: "timestamp"},
}

// DiscoveryManager publishes the Home Assistant discovery configuration
type DiscoveryManager struct {
	publisher         MessagePublisher
	discoveryPrefix   string
	stateTopic        string
	availabilityTopic string
	device            *Device
}

// NewDiscoveryManager creates a discovery manager for the sensors fed from stateTopic
func NewDiscoveryManager(publisher MessagePublisher, discoveryPrefix, stateTopic, availabilityTopic, version string) *DiscoveryManager {
	return &DiscoveryManager{
		publisher:         publisher,
		discoveryPrefix:   discoveryPrefix,
		stateTopic:        stateTopic,
		availabilityTopic: availabilityTopic,
		device: &Device{
			Identifiers:  []string{NodeID},
			Name:         "Birdwatch",
			Manufacturer: "birdwatch-go",
			Model:        "Motion capture pipeline",
			SWVersion:    version,
		},
	}
}

// RegisterSensors publishes a retained discovery config for every sensor
func (dm *DiscoveryManager) RegisterSensors() error {
	var failed int
	for _, s := range sensors {
		if err := dm.publisher.PublishRetain(dm.configTopic(s.key), dm.sensorConfig(s)); err != nil {
			log.Errorf("Failed to register Home Assistant sensor %s: %v", s.key, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sensors could not be registered", failed, len(sensors))
	}
	log.Infof("Registered %d Home Assistant sensors", len(sensors))
	return nil
}

func (dm *DiscoveryManager) configTopic(key string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", dm.discoveryPrefix, ComponentSensor, NodeID, key)
}

func (dm *DiscoveryManager) sensorConfig(s sensor) SensorConfig {
	cfg := SensorConfig{
		Name:                s.name,
		UniqueID:            fmt.Sprintf("%s_%s", NodeID, s.key),
		StateTopic:          dm.stateTopic,
		ValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", s.key),
		Icon:                s.icon,
		UnitOfMeasurement:   s.unit,
		DeviceClass:         s.deviceClass,
		StateClass:          s.stateClass,
		AvailabilityTopic:   dm.availabilityTopic,
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		Device:              dm.device,
	}
	if s.key == "status" {
		// the full state payload is shown as attributes of the status sensor
		cfg.JSONAttributesTopic = dm.stateTopic
	}
	return cfg
}
