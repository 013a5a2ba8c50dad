package radio

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire envelopes. The radio streams framed JSON; each frame is one
// fromRadio with exactly one branch set: a routed mesh packet, the
// device's own identity (handshake reply), or a node-directory record
// from the config dump.
type fromRadio struct {
	Packet   *wirePacket   `json:"packet"`
	MyInfo   *wireMyInfo   `json:"myInfo"`
	NodeInfo *wireNodeInfo `json:"nodeInfo"`
}

type toRadio struct {
	Packet *wireOutPacket `json:"packet"`
}

type wirePacket struct {
	From     interface{} `json:"from"` // number or "!hex" string
	To       interface{} `json:"to"`
	RxTime   int64       `json:"rxTime"`
	RxSnr    *float64    `json:"rxSnr"`
	HopLimit *int        `json:"hopLimit"`
	Decoded  *wireData   `json:"decoded"`
}

type wireOutPacket struct {
	To      string    `json:"to"`
	Decoded *wireData `json:"decoded"`
}

type wireData struct {
	Portnum   string         `json:"portnum"`
	Text      string         `json:"text,omitempty"`
	User      *wireUser      `json:"user,omitempty"`
	Telemetry *wireTelemetry `json:"telemetry,omitempty"`
}

type wireUser struct {
	ID        string `json:"id"`
	LongName  string `json:"longName"`
	ShortName string `json:"shortName"`
}

type wireTelemetry struct {
	Time               int64               `json:"time"`
	EnvironmentMetrics *EnvironmentMetrics `json:"environmentMetrics"`
	PowerMetrics       *PowerMetrics       `json:"powerMetrics"`
	DeviceMetrics      *DeviceMetrics      `json:"deviceMetrics"`
}

type wireMyInfo struct {
	MyNodeNum       uint32 `json:"myNodeNum"`
	FirmwareVersion string `json:"firmwareVersion"`
}

type wireNodeInfo struct {
	Num  uint32    `json:"num"`
	User *wireUser `json:"user"`
}

type wireWantConfig struct {
	WantConfigID uint32 `json:"wantConfigId"`
}

// decodePacket turns a wire packet into the tagged Packet handed to the
// collector. Packets with no sender are rejected; an absent rxTime is
// defaulted to now so downstream liveness math always has a timestamp.
func decodePacket(wp *wirePacket, now time.Time) (Packet, error) {
	from, ok := normalizeAddr(wp.From)
	if !ok || from == "" {
		return Packet{}, fmt.Errorf("radio: packet has no usable sender (%v)", wp.From)
	}

	pkt := Packet{
		From:     from,
		RxTime:   wp.RxTime,
		SNR:      wp.RxSnr,
		HopLimit: wp.HopLimit,
	}
	if pkt.RxTime == 0 {
		pkt.RxTime = now.Unix()
	}
	if to, ok := normalizeAddr(wp.To); ok {
		pkt.To = to
	}

	if wp.Decoded == nil {
		pkt.Type = PacketUnknown
		return pkt, nil
	}
	pkt.Portnum = wp.Decoded.Portnum

	switch wp.Decoded.Portnum {
	case PortNodeInfo:
		pkt.Type = PacketNodeInfo
		pkt.NodeInfo = &NodeInfoPayload{}
		if u := wp.Decoded.User; u != nil {
			pkt.NodeInfo.LongName = u.LongName
			pkt.NodeInfo.ShortName = u.ShortName
		}
	case PortTelemetry:
		pkt.Type = PacketTelemetry
		pkt.Telemetry = &TelemetryPayload{}
		if t := wp.Decoded.Telemetry; t != nil {
			pkt.Telemetry.Environment = t.EnvironmentMetrics
			pkt.Telemetry.Power = t.PowerMetrics
			pkt.Telemetry.Device = t.DeviceMetrics
		}
	case PortMotion:
		pkt.Type = PacketMotion
	case PortText:
		pkt.Type = PacketText
		pkt.Text = wp.Decoded.Text
	default:
		pkt.Type = PacketUnknown
	}

	return pkt, nil
}

// normalizeAddr canonicalizes a wire address, which JSON may carry as a
// number or a string. The all-ones node number is the broadcast address.
func normalizeAddr(v interface{}) (string, bool) {
	switch addr := v.(type) {
	case nil:
		return "", false
	case float64:
		num := uint32(addr)
		if num == 0xFFFFFFFF {
			return BroadcastID, true
		}
		return FormatNodeNum(num), true
	case string:
		if addr == BroadcastID {
			return BroadcastID, true
		}
		return NormalizeNodeID(addr)
	default:
		return "", false
	}
}

func encodeText(dest, text string) ([]byte, error) {
	if dest == "" {
		dest = BroadcastID
	}
	msg := toRadio{
		Packet: &wireOutPacket{
			To: dest,
			Decoded: &wireData{
				Portnum: PortText,
				Text:    text,
			},
		},
	}
	return json.Marshal(msg)
}
