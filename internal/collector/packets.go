package collector

import (
	"time"

	"meshmon/internal/models"
	"meshmon/internal/radio"
)

// motionWindow is how close (seconds) a motion event must be to a
// telemetry sample for the row's motion_detected flag.
const motionWindow = 60

// drainPackets moves packets from the connection manager's channel
// into the registry until shutdown.
func (c *Collector) drainPackets() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case pkt := <-c.radio.Packets():
			c.handlePacket(pkt)
		}
	}
}

// handlePacket translates one decoded packet into registry mutations.
// A panic from one packet is contained here so a malformed burst can
// never take down the drain loop.
func (c *Collector) handlePacket(pkt radio.Packet) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Packet handler panic for %s: %v", pkt.From, r)
		}
	}()

	if pkt.From == "" {
		return
	}
	if !pkt.Preloaded {
		c.log.Debug("PACKET | %s | Type: %s", pkt.From, portnumLabel(pkt))
	}

	switch pkt.Type {
	case radio.PacketNodeInfo:
		c.applyNodeInfo(pkt)
	case radio.PacketTelemetry:
		c.applyTelemetry(pkt)
	case radio.PacketMotion:
		c.applyMotion(pkt)
	case radio.PacketText:
		c.applyText(pkt)
	default:
		c.applyPresence(pkt)
	}

	c.notifyChange()
}

// applyNodeInfo updates node names. Preload packets may create the
// record; a real nodeinfo only renames an existing one. Neither
// advances liveness, so a mesh retransmission of cached names can
// never make a dead node look alive.
func (c *Collector) applyNodeInfo(pkt radio.Packet) {
	info := pkt.NodeInfo
	if info == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.nodes[pkt.From]
	if !ok {
		if !pkt.Preloaded {
			return
		}
		rec = models.NewNodeRecord()
		c.nodes[pkt.From] = rec
	}

	renamed := setNames(rec, info)
	if pkt.Preloaded {
		c.log.Debug("Preloaded node info for %s: %s (%s)", pkt.From, rec.LongName, rec.ShortName)
	} else if renamed {
		c.log.Info("NODEINFO | %s (%s) | Names updated", rec.LongName, pkt.From)
	}
}

func (c *Collector) applyTelemetry(pkt radio.Packet) {
	tel := pkt.Telemetry
	if tel == nil {
		return
	}

	ts := pkt.RxTime
	fields := telemetryFields(tel)

	c.mu.Lock()
	rec := c.ensureRecord(pkt.From)
	mergeRecord(rec, fields, ts)

	if pkt.SNR != nil {
		v := *pkt.SNR
		rec.SNR = &v
		rec.FieldTimes["SNR"] = ts
	}
	if pkt.HopLimit != nil {
		v := *pkt.HopLimit
		rec.HopLimit = &v
	}
	lt := ts
	rec.LastTelemetryTime = &lt

	c.touchLiveness(pkt.From, rec, ts, portnumLabel(pkt))

	name := rec.DisplayName(pkt.From)
	motion := c.motionWithin(pkt.From, ts)
	row := telemetryRow(pkt.From, rec, pkt, fields, ts, motion)
	sample := models.TelemetrySample{
		NodeID:    pkt.From,
		LongName:  rec.LongName,
		ShortName: rec.ShortName,
		Time:      ts,
		Metrics:   fields,
		Motion:    motion,
	}
	if pkt.SNR != nil {
		v := *pkt.SNR
		sample.SNR = &v
	}
	if pkt.HopLimit != nil {
		v := *pkt.HopLimit
		sample.HopLimit = &v
	}
	c.mu.Unlock()

	if len(fields) > 0 {
		c.log.Info("TELEMETRY | %s (%s) | %d field(s)", name, pkt.From, len(fields))
	}
	if err := c.csv.append(pkt.From, ts, row); err != nil {
		c.log.Error("Failed to log CSV row for %s: %v", pkt.From, err)
	}
	c.notifySample(sample)
}

// applyMotion records the detection in the auxiliary map and counts it
// as liveness. The timestamp is folded into the record now and again
// on every later touch.
func (c *Collector) applyMotion(pkt radio.Packet) {
	ts := pkt.RxTime

	c.mu.Lock()
	c.motion[pkt.From] = ts
	rec := c.ensureRecord(pkt.From)
	c.touchLiveness(pkt.From, rec, ts, portnumLabel(pkt))
	name := rec.DisplayName(pkt.From)
	row := motionRow(pkt.From, rec, ts)
	sample := models.TelemetrySample{
		NodeID:    pkt.From,
		LongName:  rec.LongName,
		ShortName: rec.ShortName,
		Time:      ts,
		Motion:    true,
	}
	c.mu.Unlock()

	c.log.Info("MOTION | %s (%s) | Motion detected", name, pkt.From)
	if err := c.csv.append(pkt.From, ts, row); err != nil {
		c.log.Error("Failed to log CSV row for %s: %v", pkt.From, err)
	}
	c.notifySample(sample)
}

// applyText routes an inbound text: status heartbeats feed the status
// receiver, everything else goes to the message service (which files
// receipts and stores chat), and stored chat also lands in the node's
// recent-text ring.
func (c *Collector) applyText(pkt radio.Packet) {
	ts := pkt.RxTime

	c.mu.Lock()
	rec := c.ensureRecord(pkt.From)
	c.touchLiveness(pkt.From, rec, ts, portnumLabel(pkt))
	mt := ts
	rec.LastMessageTime = &mt
	name := rec.DisplayName(pkt.From)
	c.mu.Unlock()

	if pkt.Text == "" {
		return
	}
	c.log.Info("TEXT | From: %s | To: %s | %q", pkt.From, pkt.To, pkt.Text)

	if c.status.Handle(pkt.From, pkt.Text, time.Unix(ts, 0)) {
		return
	}

	stored, err := c.msgs.HandleIncoming(pkt.From, pkt.To, name, pkt.Text, float64(ts))
	if err != nil {
		c.log.Error("Failed to store message from %s: %v", pkt.From, err)
		return
	}
	if stored == nil {
		// Read receipt or empty body; nothing to keep.
		return
	}

	var snr *float64
	if pkt.SNR != nil {
		v := *pkt.SNR
		snr = &v
	}
	c.mu.Lock()
	c.appendNodeText(pkt.From, models.NodeText{Text: stored.Text, RxTime: ts, SNR: snr})
	c.mu.Unlock()
}

// applyPresence covers every other port: the packet still proves the
// node is alive.
func (c *Collector) applyPresence(pkt radio.Packet) {
	c.mu.Lock()
	rec := c.ensureRecord(pkt.From)
	c.touchLiveness(pkt.From, rec, pkt.RxTime, portnumLabel(pkt))
	c.mu.Unlock()

	c.log.Debug("%s | %s | Packet received", portnumLabel(pkt), pkt.From)
}

// ensureRecord returns the node's record, creating it on first sight.
// Caller holds mu.
func (c *Collector) ensureRecord(nodeID string) *models.NodeRecord {
	rec, ok := c.nodes[nodeID]
	if !ok {
		rec = models.NewNodeRecord()
		c.nodes[nodeID] = rec
	}
	return rec
}

// touchLiveness advances last_heard for a real packet and folds any
// pending motion timestamp into the record. Caller holds mu.
func (c *Collector) touchLiveness(nodeID string, rec *models.NodeRecord, ts int64, packetType string) {
	lh := ts
	rec.LastHeard = &lh
	rec.LastPacketType = packetType
	rec.FieldTimes["lh"] = ts
	if m, ok := c.motion[nodeID]; ok {
		mv := m
		rec.LastMotion = &mv
	}
}

// motionWithin reports whether a motion event landed within the flag
// window around ts. Caller holds mu.
func (c *Collector) motionWithin(nodeID string, ts int64) bool {
	m, ok := c.motion[nodeID]
	if !ok {
		return false
	}
	d := ts - m
	if d < 0 {
		d = -d
	}
	return d <= motionWindow
}

func (c *Collector) appendNodeText(nodeID string, nt models.NodeText) {
	ring := append(c.texts[nodeID], nt)
	if len(ring) > maxNodeTexts {
		ring = ring[len(ring)-maxNodeTexts:]
	}
	c.texts[nodeID] = ring
}

func setNames(rec *models.NodeRecord, info *radio.NodeInfoPayload) bool {
	changed := false
	if info.LongName != "" && rec.LongName != info.LongName {
		rec.LongName = info.LongName
		changed = true
	}
	if info.ShortName != "" && rec.ShortName != info.ShortName {
		rec.ShortName = info.ShortName
		changed = true
	}
	return changed
}

func portnumLabel(pkt radio.Packet) string {
	if pkt.Portnum != "" {
		return pkt.Portnum
	}
	return "UNKNOWN_APP"
}

// telemetryFields flattens the packet's metric groups into the
// record-field view. Groups are applied power first, then device, so
// the device group wins when both report battery level or voltage.
func telemetryFields(tel *radio.TelemetryPayload) map[string]float64 {
	fields := make(map[string]float64)
	put := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}

	if env := tel.Environment; env != nil {
		put("Temperature", env.Temperature)
		put("Humidity", env.RelativeHumidity)
		put("Pressure", env.BarometricPressure)
	}
	if pow := tel.Power; pow != nil {
		put("Battery Level", pow.BatteryLevel)
		put("Voltage", pow.Voltage)
		put("Current", pow.Current)
		put("Ch3 Voltage", pow.Ch3Voltage)
		put("Ch3 Current", pow.Ch3Current)
	}
	if dev := tel.Device; dev != nil {
		put("Battery Level", dev.BatteryLevel)
		put("Voltage", dev.Voltage)
		put("Internal Battery Voltage", dev.Voltage)
		put("Channel Utilization", dev.ChannelUtilization)
		put("Air Utilization (TX)", dev.AirUtilTx)
		put("Uptime", dev.UptimeSeconds)
	}
	return fields
}

// mergeRecord writes the extracted fields into the record and stamps
// field_times. Fields the packet did not carry stay untouched, so a
// partial packet never erases earlier data.
func mergeRecord(rec *models.NodeRecord, fields map[string]float64, ts int64) {
	for name, value := range fields {
		v := value
		switch name {
		case "Temperature":
			rec.Temperature = &v
		case "Humidity":
			rec.Humidity = &v
		case "Pressure":
			rec.Pressure = &v
		case "Voltage":
			rec.Voltage = &v
		case "Current":
			rec.Current = &v
		case "Battery Level":
			rec.BatteryLevel = &v
		case "Internal Battery Voltage":
			rec.InternalBatteryVoltage = &v
		case "Channel Utilization":
			rec.ChannelUtilization = &v
		case "Air Utilization (TX)":
			rec.AirUtilizationTX = &v
		case "Uptime":
			rec.Uptime = &v
		case "Ch3 Voltage":
			rec.Ch3Voltage = &v
		case "Ch3 Current":
			rec.Ch3Current = &v
		default:
			continue
		}
		rec.FieldTimes[name] = ts
	}
}
