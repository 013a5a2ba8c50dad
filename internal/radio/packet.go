// Package radio owns the link to the mesh radio: wire framing, packet
// decoding, the TCP and serial transports, and the supervised connection
// manager with automatic reconnect.
package radio

// PortNum tags mirror the radio's application port names.
const (
	PortNodeInfo  = "NODEINFO_APP"
	PortTelemetry = "TELEMETRY_APP"
	PortText      = "TEXT_MESSAGE_APP"
	PortMotion    = "DETECTION_SENSOR_APP"
	PortPosition  = "POSITION_APP"
)

// BroadcastID is the reserved destination meaning "all nodes".
const BroadcastID = "^all"

type PacketType int

const (
	PacketUnknown PacketType = iota
	PacketNodeInfo
	PacketTelemetry
	PacketMotion
	PacketText
)

func (t PacketType) String() string {
	switch t {
	case PacketNodeInfo:
		return "nodeinfo"
	case PacketTelemetry:
		return "telemetry"
	case PacketMotion:
		return "motion"
	case PacketText:
		return "text"
	default:
		return "unknown"
	}
}

// Packet is one inbound mesh packet, decoded exactly once at the transport
// boundary. Exactly one of the payload fields matching Type is set;
// handlers switch on Type instead of probing raw maps.
type Packet struct {
	Type     PacketType
	From     string // normalized node id
	To       string // normalized node id or BroadcastID; "" if absent
	Portnum  string // raw port tag, kept for Last Packet Type even when unknown
	RxTime   int64  // epoch seconds; transports default it to receive time
	SNR      *float64
	HopLimit *int

	// Preloaded marks a synthetic nodeinfo packet built from the
	// transport's cached node directory at connect time. Preloaded packets
	// seed names but must never advance liveness.
	Preloaded bool

	NodeInfo  *NodeInfoPayload
	Telemetry *TelemetryPayload
	Text      string
}

type NodeInfoPayload struct {
	LongName  string
	ShortName string
}

// TelemetryPayload carries whichever metric groups the packet included.
// Groups are independent: a packet may carry any subset.
type TelemetryPayload struct {
	Environment *EnvironmentMetrics
	Power       *PowerMetrics
	Device      *DeviceMetrics
}

type EnvironmentMetrics struct {
	Temperature        *float64 `json:"temperature"`
	RelativeHumidity   *float64 `json:"relativeHumidity"`
	BarometricPressure *float64 `json:"barometricPressure"`
}

// PowerMetrics reports the external power sensor. Ch3 is the auxiliary
// channel used for the external battery pack.
type PowerMetrics struct {
	BatteryLevel *float64 `json:"batteryLevel"`
	Voltage      *float64 `json:"voltage"`
	Current      *float64 `json:"current"`
	Ch3Voltage   *float64 `json:"ch3Voltage"`
	Ch3Current   *float64 `json:"ch3Current"`
}

type DeviceMetrics struct {
	BatteryLevel       *float64 `json:"batteryLevel"`
	Voltage            *float64 `json:"voltage"`
	ChannelUtilization *float64 `json:"channelUtilization"`
	AirUtilTx          *float64 `json:"airUtilTx"`
	UptimeSeconds      *float64 `json:"uptimeSeconds"`
}
