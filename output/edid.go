package output

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const unknown = "Unknown"

var edidHeader = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

var ErrInvalidEDID = errors.New("invalid EDID")

// Display descriptor tags
const (
	descriptorSerial = 0xff
	descriptorName   = 0xfc
)

// Common PNP ids. Anything not listed is reported with its raw three letter id
var pnpVendors = map[string]string{
	"AAA": "Avolites Ltd",
	"ACI": "Ancor Communications Inc",
	"ACR": "Acer Technologies",
	"AOC": "AOC",
	"APP": "Apple Computer Inc",
	"AUO": "AU Optronics",
	"BNQ": "BenQ Corporation",
	"BOE": "BOE",
	"CMN": "Chimei Innolux Corporation",
	"CMO": "Chi Mei Optoelectronics corp.",
	"DEL": "Dell Inc.",
	"ENC": "Eizo Nanao Corporation",
	"GSM": "Goldstar Company Ltd",
	"HPN": "HP Inc.",
	"HWP": "Hewlett Packard",
	"IVM": "Iiyama North America",
	"LEN": "Lenovo Group Limited",
	"LGD": "LG Display",
	"MEI": "Panasonic Industry Company",
	"NEC": "NEC Corporation",
	"PHL": "Philips Consumer Electronics Company",
	"RHT": "Red Hat, Inc.",
	"SAM": "Samsung Electric Company",
	"SDC": "Samsung Display Corp",
	"SHP": "Sharp Corporation",
	"SNY": "Sony",
	"VSC": "ViewSonic Corporation",
}

// DisplayInfo is what the EDID tells about the monitor on a connector
type DisplayInfo struct {
	Make   string
	Model  string
	Serial string
}

// UnknownDisplay is used whenever a connector has no (usable) EDID
var UnknownDisplay = DisplayInfo{Make: unknown, Model: unknown}

// ParseEDID reads vendor and model out of an EDID base block
func ParseEDID(data []byte) (DisplayInfo, error) {
	if len(data) < 128 {
		return UnknownDisplay, fmt.Errorf("%w: only %d bytes", ErrInvalidEDID, len(data))
	}
	if !bytes.Equal(data[:8], edidHeader) {
		return UnknownDisplay, fmt.Errorf("%w: bad header", ErrInvalidEDID)
	}

	info := UnknownDisplay
	if id, ok := pnpID(binary.BigEndian.Uint16(data[8:10])); ok {
		if name, known := pnpVendors[id]; known {
			info.Make = name
		} else {
			info.Make = id
		}
	}
	product := binary.LittleEndian.Uint16(data[10:12])
	if product != 0 {
		info.Model = fmt.Sprintf("0x%04X", product)
	}

	// Four 18 byte descriptors, display descriptors start with three zero bytes
	for off := 54; off+18 <= 126; off += 18 {
		d := data[off : off+18]
		if d[0] != 0 || d[1] != 0 || d[2] != 0 {
			continue
		}
		switch d[3] {
		case descriptorName:
			if name := descriptorText(d[5:]); name != "" {
				info.Model = name
			}
		case descriptorSerial:
			info.Serial = descriptorText(d[5:])
		}
	}
	return info, nil
}

// pnpID decodes the compressed manufacturer id, three 5 bit letters
func pnpID(v uint16) (string, bool) {
	var id [3]byte
	for i := 0; i < 3; i++ {
		c := (v >> (10 - 5*i)) & 0x1f
		if c < 1 || c > 26 {
			return "", false
		}
		id[i] = byte('A' + c - 1)
	}
	return string(id[:]), true
}

func descriptorText(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
