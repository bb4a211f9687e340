package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"towerloc/internal/propagation"
	"towerloc/internal/tower"
)

// atConn runs AT commands over a line-oriented port.
type atConn struct {
	port    io.ReadWriter
	timeout time.Duration
	buf     []byte
	pending []byte
}

func newATConn(port io.ReadWriter, timeout time.Duration) *atConn {
	return &atConn{port: port, timeout: timeout, buf: make([]byte, 256)}
}

// command sends cmd and collects the response lines up to the final result
// code. Echoed commands and blank lines are skipped. Serial ports return
// (0, nil) when their read timeout elapses, so the loop polls until the
// per-command deadline.
func (a *atConn) command(ctx context.Context, cmd string) ([]string, error) {
	a.pending = a.pending[:0]
	if _, err := a.port.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, fmt.Errorf("%s: write: %w", cmd, err)
	}

	deadline := time.Now().Add(a.timeout)
	var lines []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: no final result code after %s", cmd, a.timeout)
		}

		n, err := a.port.Read(a.buf)
		a.pending = append(a.pending, a.buf[:n]...)

		for {
			idx := bytes.IndexByte(a.pending, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSpace(string(a.pending[:idx]))
			a.pending = a.pending[idx+1:]

			switch {
			case line == "" || line == cmd:
				continue
			case line == "OK":
				return lines, nil
			case line == "ERROR", strings.HasPrefix(line, "+CME ERROR"), strings.HasPrefix(line, "+CMS ERROR"):
				return lines, fmt.Errorf("%s: %s", cmd, line)
			}
			lines = append(lines, line)
		}

		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%s: read: %w", cmd, err)
		}
		if err == io.EOF && n == 0 {
			return nil, fmt.Errorf("%s: %w", cmd, io.ErrUnexpectedEOF)
		}
	}
}

// modem families with vendor-specific serving cell commands.
const (
	modelGeneric = "Generic"
	modelQuectel = "Quectel"
	modelSIMCom  = "SIMCom"
	modelHuawei  = "Huawei"
)

func detectModel(lines []string) string {
	joined := strings.ToUpper(strings.Join(lines, " "))
	switch {
	case strings.Contains(joined, "QUECTEL"):
		return modelQuectel
	case strings.Contains(joined, "SIMCOM"):
		return modelSIMCom
	case strings.Contains(joined, "HUAWEI"):
		return modelHuawei
	default:
		return modelGeneric
	}
}

func findPrefixed(lines []string, prefix string) (string, bool) {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(l, prefix)), true
		}
	}
	return "", false
}

func splitFields(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"`)
	}
	return parts
}

// parseCSQ handles "+CSQ: <rssi>,<ber>".
func parseCSQ(lines []string) (int, bool) {
	body, ok := findPrefixed(lines, "+CSQ:")
	if !ok {
		return 0, false
	}
	fields := splitFields(body)
	csq, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return propagation.CSQToDBm(csq)
}

// parseNumericOperator handles `+COPS: 0,2,"64301",7`.
func parseNumericOperator(lines []string) (mcc, mnc string, ok bool) {
	body, found := findPrefixed(lines, "+COPS:")
	if !found {
		return "", "", false
	}
	fields := splitFields(body)
	if len(fields) < 3 || len(fields[2]) < 5 {
		return "", "", false
	}
	plmn := fields[2]
	if _, err := strconv.Atoi(plmn); err != nil {
		return "", "", false
	}
	return plmn[:3], plmn[3:], true
}

var registrationRe = regexp.MustCompile(`^\+C(?:E|G)?REG:\s*\d+,\d+,"?([0-9A-Fa-f]+)"?,"?([0-9A-Fa-f]+)"?`)

// parseRegistration handles +CREG/+CGREG/+CEREG in <n>=2 mode.
func parseRegistration(lines []string) (lac, cid string, ok bool) {
	for _, l := range lines {
		if m := registrationRe.FindStringSubmatch(l); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// parseQuectelServingCell handles the LTE form of AT+QENG="servingcell":
//
//	+QENG: "servingcell",<state>,"LTE",<is_tdd>,<mcc>,<mnc>,<cellid>,<pcid>,
//	       <earfcn>,<band>,<ul_bw>,<dl_bw>,<tac>,<rsrp>,<rsrq>,<rssi>,<sinr>...
func parseQuectelServingCell(lines []string) (tower.Reading, error) {
	body, ok := findPrefixed(lines, "+QENG:")
	if !ok {
		return tower.Reading{}, fmt.Errorf("QENG: no servingcell line")
	}
	f := splitFields(body)
	if len(f) < 16 {
		return tower.Reading{}, fmt.Errorf("QENG: %d fields, want at least 16", len(f))
	}
	if f[2] != "LTE" {
		return tower.Reading{}, fmt.Errorf("QENG: unsupported technology %q", f[2])
	}
	band, err := strconv.Atoi(f[9])
	if err != nil {
		return tower.Reading{}, fmt.Errorf("QENG: band: %w", err)
	}
	rssi, err := strconv.Atoi(f[15])
	if err != nil {
		return tower.Reading{}, fmt.Errorf("QENG: rssi: %w", err)
	}
	return tower.Reading{
		Identifier: tower.NormalizeIdentifier(f[4], f[5], f[12], f[6]),
		RSSIDBm:    rssi,
		BandMHz:    propagation.LTEBandMHz(band),
		Technology: f[2],
	}, nil
}

var simcomBandRe = regexp.MustCompile(`BAND(\d+)`)

// parseSIMComCPSI handles the LTE form of AT+CPSI?:
//
//	+CPSI: LTE,Online,643-01,0x2A4B,23645,256,EUTRAN-BAND3,1300,...
//
// The serving cell id is decimal and is converted to hex to match the
// catalog. Signal strength is not taken from CPSI.
func parseSIMComCPSI(lines []string) (tower.Reading, error) {
	body, ok := findPrefixed(lines, "+CPSI:")
	if !ok {
		return tower.Reading{}, fmt.Errorf("CPSI: no response line")
	}
	f := splitFields(body)
	if len(f) < 7 {
		return tower.Reading{}, fmt.Errorf("CPSI: %d fields, want at least 7", len(f))
	}
	if f[0] != "LTE" {
		return tower.Reading{}, fmt.Errorf("CPSI: unsupported technology %q", f[0])
	}
	plmn := strings.SplitN(f[2], "-", 2)
	if len(plmn) != 2 {
		return tower.Reading{}, fmt.Errorf("CPSI: malformed PLMN %q", f[2])
	}
	cell, err := strconv.ParseUint(f[4], 10, 32)
	if err != nil {
		return tower.Reading{}, fmt.Errorf("CPSI: cell id: %w", err)
	}
	bandMHz := propagation.DefaultBandMHz
	if m := simcomBandRe.FindStringSubmatch(f[6]); m != nil {
		if band, err := strconv.Atoi(m[1]); err == nil {
			bandMHz = propagation.LTEBandMHz(band)
		}
	}
	return tower.Reading{
		Identifier: tower.NormalizeIdentifier(plmn[0], plmn[1], f[3], strconv.FormatUint(cell, 16)),
		BandMHz:    bandMHz,
		Technology: f[0],
	}, nil
}
