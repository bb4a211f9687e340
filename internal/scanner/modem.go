package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sync/semaphore"

	"towerloc/internal/propagation"
	"towerloc/internal/tower"
)

// ModemConfig describes how to reach an AT-command modem.
type ModemConfig struct {
	Port           string
	BaudRate       int
	CommandTimeout time.Duration
}

// PortOpener opens the modem's serial channel.
type PortOpener func(cfg ModemConfig) (io.ReadWriteCloser, error)

// Modem reads the serving cell from a 4G/LTE modem over AT commands. The
// serial channel is exclusive: concurrent scans queue on a semaphore.
type Modem struct {
	cfg  ModemConfig
	open PortOpener
	sem  *semaphore.Weighted
	log  *slog.Logger
}

// NewModem returns a modem source. A nil opener uses go.bug.st/serial.
func NewModem(cfg ModemConfig, open PortOpener, log *slog.Logger) *Modem {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 3 * time.Second
	}
	if open == nil {
		open = OpenSerial
	}
	if log == nil {
		log = slog.Default()
	}
	return &Modem{
		cfg:  cfg,
		open: open,
		sem:  semaphore.NewWeighted(1),
		log:  log.With("port", cfg.Port),
	}
}

// OpenSerial opens cfg.Port at 8N1 with a short read timeout so that reads
// poll instead of blocking forever.
func OpenSerial(cfg ModemConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

func (m *Modem) Name() string { return "modem" }

// Read returns the serving cell. Modems only report neighbour cells
// without identities, so a hardware scan yields at most one reading.
func (m *Modem) Read(ctx context.Context) ([]tower.Reading, error) {
	if m.cfg.Port == "" {
		return nil, fmt.Errorf("%w: no port configured", ErrNoModem)
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	port, err := m.open(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrNoModem, m.cfg.Port, err)
	}
	defer func() {
		if err := port.Close(); err != nil {
			m.log.Error("error closing modem port", "err", err)
		}
	}()

	conn := newATConn(port, m.cfg.CommandTimeout)
	if _, err := conn.command(ctx, "AT"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoModem, err)
	}
	if _, err := conn.command(ctx, "ATE0"); err != nil {
		m.log.Debug("disabling command echo failed", "err", err)
	}

	info, err := conn.command(ctx, "ATI")
	if err != nil {
		return nil, err
	}
	model := detectModel(info)
	m.log.Debug("modem detected", "model", model)

	reading, err := m.servingCell(ctx, conn, model)
	if err != nil {
		return nil, err
	}
	return []tower.Reading{reading}, nil
}

func (m *Modem) servingCell(ctx context.Context, conn *atConn, model string) (tower.Reading, error) {
	var (
		r   tower.Reading
		err error
	)
	switch model {
	case modelQuectel:
		var lines []string
		if lines, err = conn.command(ctx, `AT+QENG="servingcell"`); err == nil {
			r, err = parseQuectelServingCell(lines)
		}
	case modelSIMCom:
		var lines []string
		if lines, err = conn.command(ctx, "AT+CPSI?"); err == nil {
			if r, err = parseSIMComCPSI(lines); err == nil {
				r.RSSIDBm, err = m.signal(ctx, conn)
			}
		}
	default:
		return m.genericServingCell(ctx, conn)
	}
	if err == nil {
		return r, nil
	}
	if ctx.Err() != nil {
		return tower.Reading{}, err
	}
	m.log.Warn("falling back to generic commands", "model", model, "err", err)
	return m.genericServingCell(ctx, conn)
}

func (m *Modem) signal(ctx context.Context, conn *atConn) (int, error) {
	lines, err := conn.command(ctx, "AT+CSQ")
	if err != nil {
		return 0, err
	}
	rssi, ok := parseCSQ(lines)
	if !ok {
		return 0, fmt.Errorf("AT+CSQ: signal not detectable")
	}
	return rssi, nil
}

func (m *Modem) genericServingCell(ctx context.Context, conn *atConn) (tower.Reading, error) {
	rssi, err := m.signal(ctx, conn)
	if err != nil {
		return tower.Reading{}, err
	}

	if _, err := conn.command(ctx, "AT+COPS=3,2"); err != nil {
		return tower.Reading{}, err
	}
	lines, err := conn.command(ctx, "AT+COPS?")
	if err != nil {
		return tower.Reading{}, err
	}
	mcc, mnc, ok := parseNumericOperator(lines)
	if !ok {
		return tower.Reading{}, fmt.Errorf("AT+COPS?: no numeric operator in %q", lines)
	}

	registrations := []struct {
		set, query, technology string
	}{
		{"AT+CEREG=2", "AT+CEREG?", "LTE"},
		{"AT+CGREG=2", "AT+CGREG?", "GPRS"},
		{"AT+CREG=2", "AT+CREG?", "GSM"},
	}
	for _, reg := range registrations {
		if _, err := conn.command(ctx, reg.set); err != nil {
			continue
		}
		lines, err := conn.command(ctx, reg.query)
		if err != nil {
			continue
		}
		if lac, cid, ok := parseRegistration(lines); ok {
			return tower.Reading{
				Identifier: tower.NormalizeIdentifier(mcc, mnc, lac, cid),
				RSSIDBm:    rssi,
				BandMHz:    propagation.DefaultBandMHz,
				Technology: reg.technology,
			}, nil
		}
	}
	return tower.Reading{}, fmt.Errorf("modem reported no registered cell")
}
