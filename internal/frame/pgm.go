package frame

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
)

// EncodePGM renders f as a binary (P5) portable graymap with maxval 255.
func EncodePGM(f Frame) []byte {
	header := fmt.Sprintf("P5\n%d %d\n255\n", f.Geometry.Width, f.Geometry.Height)
	out := make([]byte, 0, len(header)+len(f.Data))
	out = append(out, header...)
	return append(out, f.Data...)
}

// EncodePGMBase64 returns the standard base64 encoding of EncodePGM(f).
func EncodePGMBase64(f Frame) string {
	return base64.StdEncoding.EncodeToString(EncodePGM(f))
}

// DecodePGM parses a binary P5 graymap with maxval 255 produced by EncodePGM.
func DecodePGM(data []byte) (Geometry, []byte, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	var magic string
	var g Geometry
	var maxval int
	if _, err := fmt.Fscan(r, &magic, &g.Width, &g.Height, &maxval); err != nil {
		return Geometry{}, nil, fmt.Errorf("pgm header: %w", err)
	}
	if magic != "P5" {
		return Geometry{}, nil, fmt.Errorf("pgm header: unsupported magic %q", magic)
	}
	if maxval != 255 {
		return Geometry{}, nil, fmt.Errorf("pgm header: unsupported maxval %d", maxval)
	}
	if !g.Valid() {
		return Geometry{}, nil, fmt.Errorf("pgm header: invalid geometry %dx%d", g.Width, g.Height)
	}
	// single whitespace byte separates header from samples
	if _, err := r.ReadByte(); err != nil {
		return Geometry{}, nil, fmt.Errorf("pgm header: %w", err)
	}

	samples := make([]byte, g.Size())
	if _, err := io.ReadFull(r, samples); err != nil {
		return Geometry{}, nil, fmt.Errorf("pgm samples: %w", err)
	}
	return g, samples, nil
}
