package raster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Label describes a DEM data file: grid size, pixel encoding, map projection
// and the target body it belongs to. It is stored as a JSON sidecar next to
// the data file.
type Label struct {
	Data       string    `json:"data"`
	Samples    int       `json:"samples"`
	Lines      int       `json:"lines"`
	PixelType  string    `json:"pixel_type"` // float32 | int16 | float64
	ByteOrder  string    `json:"byte_order"` // little | big
	Multiplier float64   `json:"multiplier"`
	Base       float64   `json:"base"`
	NoData     []float64 `json:"no_data"`
	Mapping    Mapping   `json:"mapping"`
	Target     Target    `json:"target"`
}

// Mapping is the map projection of the grid. Values are metres: radii when
// Datum is "radius", heights otherwise.
type Mapping struct {
	Projection         string  `json:"projection"` // equirectangular
	Scale              float64 `json:"scale"`      // pixels per degree
	UpperLeftLatitude  float64 `json:"upper_left_latitude"`
	UpperLeftLongitude float64 `json:"upper_left_longitude"`
	Datum              string  `json:"datum"` // radius | ellipsoid | egm96
}

// Target names the body and its tri-axial radii in km.
type Target struct {
	Name  string    `json:"name"`
	Radii []float64 `json:"radii_km"`
}

// ReadLabel loads and validates a JSON label.
func ReadLabel(path string) (Label, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Label{}, err
	}
	return ParseLabel(raw)
}

// ParseLabel decodes a JSON label and fills defaults.
func ParseLabel(raw []byte) (Label, error) {
	var l Label
	if err := json.Unmarshal(raw, &l); err != nil {
		return Label{}, fmt.Errorf("label: %w", err)
	}
	if l.PixelType == "" {
		l.PixelType = "float32"
	}
	if l.ByteOrder == "" {
		l.ByteOrder = "little"
	}
	if l.Multiplier == 0 {
		l.Multiplier = 1
	}
	if l.Mapping.Projection == "" {
		l.Mapping.Projection = "equirectangular"
	}
	if l.Mapping.Datum == "" {
		l.Mapping.Datum = "radius"
	}
	return l, l.Validate()
}

// Validate reports the first inconsistency in the label.
func (l Label) Validate() error {
	if l.Samples <= 0 || l.Lines <= 0 {
		return fmt.Errorf("label: bad grid size %dx%d", l.Samples, l.Lines)
	}
	if _, err := l.pixelSize(); err != nil {
		return err
	}
	if _, err := l.byteOrder(); err != nil {
		return err
	}
	if l.Mapping.Scale <= 0 {
		return fmt.Errorf("label: mapping scale must be positive, got %v", l.Mapping.Scale)
	}
	if len(l.Target.Radii) != 0 && len(l.Target.Radii) != 3 {
		return fmt.Errorf("label: target radii need 3 values, got %d", len(l.Target.Radii))
	}
	return nil
}

func (l Label) pixelSize() (int, error) {
	switch strings.ToLower(l.PixelType) {
	case "float32":
		return 4, nil
	case "int16":
		return 2, nil
	case "float64":
		return 8, nil
	}
	return 0, fmt.Errorf("label: unsupported pixel type %q", l.PixelType)
}

func (l Label) byteOrder() (binary.ByteOrder, error) {
	switch strings.ToLower(l.ByteOrder) {
	case "little", "lsb":
		return binary.LittleEndian, nil
	case "big", "msb":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("label: unsupported byte order %q", l.ByteOrder)
}
