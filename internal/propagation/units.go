package propagation

// CSQToDBm converts a 3GPP +CSQ rssi index into dBm. Index 99 means the
// modem could not measure the signal.
func CSQToDBm(csq int) (int, bool) {
	if csq < 0 || csq > 31 {
		return 0, false
	}
	return -113 + 2*csq, true
}

// lteBands maps E-UTRA band numbers to their nominal downlink frequency.
var lteBands = map[int]int{
	1:  2100,
	3:  1800,
	5:  850,
	7:  2600,
	8:  900,
	20: 800,
	28: 700,
	38: 2600,
	40: 2300,
	41: 2500,
}

// LTEBandMHz returns the nominal frequency of an E-UTRA band number, or
// DefaultBandMHz when the band is unknown.
func LTEBandMHz(band int) int {
	if mhz, ok := lteBands[band]; ok {
		return mhz
	}
	return DefaultBandMHz
}
