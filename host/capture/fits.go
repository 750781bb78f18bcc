package capture

import (
	"io"
	"strconv"

	"github.com/astrogo/fitsio"
)

// Meta describes how a capture was taken
type Meta struct {
	Mode    string
	Scans   int
	Overrun bool
}

// WriteFITS streams codes as a 32-bit integer image of nchannels rows by
// nscans columns. Channel names, scales and offsets go in the header as
// CHNAMEn, CHSCALn and CHOFFSn, numbered from 1 in row order.
func WriteFITS(w io.Writer, l Layout, meta Meta, codes [][]int32) error {
	nscans := 0
	if len(codes) > 0 {
		nscans = len(codes[0])
	}
	cards := []fitsio.Card{
		{Name: "DEVICE", Value: l.Device, Comment: "IIO device"},
		{Name: "MODE", Value: meta.Mode, Comment: "burst or continuous"},
		{Name: "MASK", Value: int(l.Mask), Comment: "scan mask"},
		{Name: "NCHAN", Value: len(l.Channels)},
		{Name: "NSCANS", Value: nscans},
		{Name: "OVERRUN", Value: meta.Overrun, Comment: "scans dropped on a full buffer"},
	}
	for i, ch := range l.Channels {
		n := strconv.Itoa(i + 1)
		cards = append(cards,
			fitsio.Card{Name: "CHNAME" + n, Value: ch.Name},
			fitsio.Card{Name: "CHINDX" + n, Value: ch.Index},
			fitsio.Card{Name: "CHSCAL" + n, Value: ch.Scale},
			fitsio.Card{Name: "CHOFFS" + n, Value: ch.Offset},
		)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	// NAXIS1 is the fastest axis: scans along a row, one row per channel
	im := fitsio.NewImage(32, []int{nscans, len(codes)})
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	flat := make([]int32, 0, nscans*len(codes))
	for _, col := range codes {
		flat = append(flat, col...)
	}
	if err := im.Write(flat); err != nil {
		return err
	}
	return fits.Write(im)
}
