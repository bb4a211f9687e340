package mosquitto

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"towerloc/internal/storage"
	"towerloc/internal/tower"
)

// CellMsg is one tower sighting as published by a modem gateway.
type CellMsg struct {
	MCC        string `json:"mcc"`
	MNC        string `json:"mnc"`
	LAC        string `json:"lac"`
	CellID     string `json:"cell_id"`
	RSSI       *int   `json:"rssi"`
	BandMHz    int    `json:"band_mhz"`
	Operator   string `json:"operator"`
	Technology string `json:"technology"`
}

// ScanMsg carries every cell visible to the gateway at once.
type ScanMsg struct {
	Cells []CellMsg `json:"cells"`
}

// ReadingCounter counts readings accepted from the broker.
type ReadingCounter interface {
	RecordBrokerReadings(n int)
}

type MqttMsgHandler struct {
	storage *storage.Storage
	log     *slog.Logger
	metrics ReadingCounter
}

func NewHandler(storage *storage.Storage, log *slog.Logger) *MqttMsgHandler {
	return &MqttMsgHandler{storage: storage, log: log}
}

// WithMetrics reports stored readings to m.
func (h *MqttMsgHandler) WithMetrics(m ReadingCounter) *MqttMsgHandler {
	h.metrics = m
	return h
}

// HandleMsg accepts either a single CellMsg or a ScanMsg batch.
func (h *MqttMsgHandler) HandleMsg(msg []byte) error {
	cells, err := decodeCells(msg)
	if err != nil {
		h.log.Error("failed to parse MQTT message", "err", err)
		return err
	}

	stored := 0
	for _, c := range cells {
		r, err := c.reading()
		if err != nil {
			h.log.Warn("skipping cell", "cell", r.Identifier.String(), "err", err)
			continue
		}
		h.storage.Set(r)
		stored++
	}
	if h.metrics != nil && stored > 0 {
		h.metrics.RecordBrokerReadings(stored)
	}
	h.log.Debug("stored cell readings", "received", len(cells), "stored", stored)
	return nil
}

func decodeCells(msg []byte) ([]CellMsg, error) {
	var batch ScanMsg
	if err := json.Unmarshal(msg, &batch); err != nil {
		return nil, err
	}
	if len(batch.Cells) > 0 {
		return batch.Cells, nil
	}

	var single CellMsg
	if err := json.Unmarshal(msg, &single); err != nil {
		return nil, err
	}
	if single.CellID == "" {
		return nil, fmt.Errorf("message carries no cells")
	}
	return []CellMsg{single}, nil
}

func (c CellMsg) reading() (tower.Reading, error) {
	r := tower.Reading{
		Identifier: tower.NormalizeIdentifier(c.MCC, c.MNC, c.LAC, c.CellID),
		BandMHz:    c.BandMHz,
		Operator:   c.Operator,
		Technology: c.Technology,
	}
	if !r.Identifier.Valid() {
		return r, errors.New("incomplete identifier")
	}
	if c.RSSI == nil {
		return r, errors.New("missing rssi")
	}
	r.RSSIDBm = *c.RSSI
	return r, nil
}
