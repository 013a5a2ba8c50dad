// internal/models/models.go

package models

const (
	DefaultLongName  = "Unknown Node"
	DefaultShortName = "Unknown"

	// OnlineWindowSeconds is how recently a node must have been heard to
	// count as online in stats.
	OnlineWindowSeconds = 300
)

// NodeRecord is the per-node telemetry state. JSON tags match the
// display-style keys of latest_data.json so snapshots written by earlier
// versions of the monitor load unchanged. Metric fields are pointers:
// nil means never reported, and merges only overwrite non-nil inputs.
type NodeRecord struct {
	LongName               string   `json:"Long Name"`
	ShortName              string   `json:"Short Name"`
	LastHeard              *int64   `json:"Last Heard"`
	LastPacketType         string   `json:"Last Packet Type"`
	Temperature            *float64 `json:"Temperature"`
	Humidity               *float64 `json:"Humidity"`
	Pressure               *float64 `json:"Pressure"`
	Voltage                *float64 `json:"Voltage"`
	Current                *float64 `json:"Current"`
	BatteryLevel           *float64 `json:"Battery Level"`
	InternalBatteryVoltage *float64 `json:"Internal Battery Voltage"`
	ChannelUtilization     *float64 `json:"Channel Utilization"`
	AirUtilizationTX       *float64 `json:"Air Utilization (TX)"`
	Uptime                 *float64 `json:"Uptime"`
	Ch3Voltage             *float64 `json:"Ch3 Voltage"`
	Ch3Current             *float64 `json:"Ch3 Current"`
	SNR                    *float64 `json:"SNR"`
	HopLimit               *int     `json:"Hop Limit"`
	LastMotion             *int64   `json:"Last Motion"`
	LastTelemetryTime      *int64   `json:"Last Telemetry Time"`
	LastMessageTime        *int64   `json:"Last Message Time"`

	// FieldTimes maps a metric name (plus "lh" for liveness) to the epoch
	// second it was last written. Consumers use it for fresh/stale display.
	FieldTimes map[string]int64 `json:"Field Times"`
}

func NewNodeRecord() *NodeRecord {
	return &NodeRecord{
		LongName:   DefaultLongName,
		ShortName:  DefaultShortName,
		FieldTimes: make(map[string]int64),
	}
}

// Copy returns an independent copy: fresh pointer cells and a fresh
// FieldTimes map, so callers can hand it across goroutines.
func (r *NodeRecord) Copy() NodeRecord {
	out := *r
	out.LastHeard = copyInt64(r.LastHeard)
	out.Temperature = copyFloat(r.Temperature)
	out.Humidity = copyFloat(r.Humidity)
	out.Pressure = copyFloat(r.Pressure)
	out.Voltage = copyFloat(r.Voltage)
	out.Current = copyFloat(r.Current)
	out.BatteryLevel = copyFloat(r.BatteryLevel)
	out.InternalBatteryVoltage = copyFloat(r.InternalBatteryVoltage)
	out.ChannelUtilization = copyFloat(r.ChannelUtilization)
	out.AirUtilizationTX = copyFloat(r.AirUtilizationTX)
	out.Uptime = copyFloat(r.Uptime)
	out.Ch3Voltage = copyFloat(r.Ch3Voltage)
	out.Ch3Current = copyFloat(r.Ch3Current)
	out.SNR = copyFloat(r.SNR)
	out.HopLimit = copyInt(r.HopLimit)
	out.LastMotion = copyInt64(r.LastMotion)
	out.LastTelemetryTime = copyInt64(r.LastTelemetryTime)
	out.LastMessageTime = copyInt64(r.LastMessageTime)
	out.FieldTimes = make(map[string]int64, len(r.FieldTimes))
	for k, v := range r.FieldTimes {
		out.FieldTimes[k] = v
	}
	return out
}

// DisplayName prefers the long name, falling back to the node id.
func (r *NodeRecord) DisplayName(nodeID string) string {
	if r.LongName != "" && r.LongName != DefaultLongName {
		return r.LongName
	}
	return nodeID
}

// Online reports whether the node was heard within the online window.
func (r *NodeRecord) Online(now int64) bool {
	return r.LastHeard != nil && *r.LastHeard > 0 && now-*r.LastHeard <= OnlineWindowSeconds
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NodeText is one plain text message kept in a node's recent-message ring.
type NodeText struct {
	Text   string   `json:"text"`
	RxTime int64    `json:"rx_time"`
	SNR    *float64 `json:"snr,omitempty"`
}

// TelemetrySample is one measurement event as written to the daily CSV
// log, fanned out to optional sinks. Metrics holds only the fields the
// packet itself carried, keyed by display name ("Temperature",
// "Battery Level", ...). Motion detections arrive with an empty map.
type TelemetrySample struct {
	NodeID    string
	LongName  string
	ShortName string
	Time      int64
	SNR       *float64
	HopLimit  *int
	Metrics   map[string]float64
	Motion    bool
}

// ConnectionStatus describes the link to the radio.
type ConnectionStatus struct {
	Connected bool           `json:"connected"`
	Interface *InterfaceInfo `json:"interface,omitempty"`
}

// InterfaceInfo records how the current connection was made. Host/Port
// are set for tcp, Device/Baud for serial.
type InterfaceInfo struct {
	Type        string `json:"type"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Device      string `json:"device,omitempty"`
	Baud        int    `json:"baud,omitempty"`
	ConnectedAt int64  `json:"connected_at"`
}

// Stats is the roll-up returned by the collector.
type Stats struct {
	TotalNodes  int `json:"total_nodes"`
	OnlineNodes int `json:"online_nodes"`
}

// StatusReport is a parsed ICP status heartbeat from a remote node.
type StatusReport struct {
	NodeID     string   `json:"node_id"`
	Status     string   `json:"status"`
	Reasons    []string `json:"reasons"`
	NeedsHelp  bool     `json:"needs_help"`
	Version    string   `json:"version"`
	ReportedAt int64    `json:"reported_at"`
	ReceivedAt int64    `json:"received_at"`
}
