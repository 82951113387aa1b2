package msut

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	bin1HeaderSize     = 64
	bin1IndexEntrySize = 32
	bin1SpecMetaSize   = 104
	bin1ChromMetaSize  = 24

	fmtF32 byte = 1
	fmtF64 byte = 2
)

// EncodeBIN1 serializes a Run into the BIN1 container format: a 64-byte
// header, spectrum and chromatogram index tables (32 bytes/entry),
// spectrum metadata (104 bytes/record) and chromatogram metadata (24
// bytes/record), followed by 8-byte-aligned m/z (f64) and intensity (f32)
// payloads and chromatogram id strings. Per spec.md sec 4.1, absent
// optional fields are encoded as -1.0 (floats) or 255 (u8 enums).
func EncodeBIN1(run *Run) []byte {
	if run == nil {
		out := make([]byte, bin1HeaderSize)
		copy(out[0:4], "BIN1")
		out[12], out[13], out[14], out[15] = fmtF64, fmtF32, fmtF64, fmtF32
		binary.LittleEndian.PutUint64(out[56:64], bin1HeaderSize)
		return out
	}

	nSpec := len(run.Spectra)
	nCh := len(run.Chromatograms)

	sb := nSpec * bin1IndexEntrySize
	cb := nCh * bin1IndexEntrySize
	smb := nSpec * bin1SpecMetaSize
	cmb := nCh * bin1ChromMetaSize

	plan := bin1HeaderSize + sb + cb + smb + cmb
	for _, s := range run.Spectra {
		if len(s.MzArray) > 0 {
			plan = align8(plan) + len(s.MzArray)*8
		}
	}
	for _, s := range run.Spectra {
		if len(s.IntensityArray) > 0 {
			plan = align8(plan) + len(s.IntensityArray)*4
		}
	}
	for _, c := range run.Chromatograms {
		if len(c.TimeArray) > 0 {
			plan = align8(plan) + len(c.TimeArray)*8
		}
	}
	for _, c := range run.Chromatograms {
		if len(c.IntensityArray) > 0 {
			plan = align8(plan) + len(c.IntensityArray)*4
		}
	}
	for _, c := range run.Chromatograms {
		if len(c.ID) > 0 {
			plan = align8(plan) + len(c.ID)
		}
	}

	out := make([]byte, plan)
	copy(out[0:4], "BIN1")
	binary.LittleEndian.PutUint32(out[4:8], uint32(nSpec))
	binary.LittleEndian.PutUint32(out[8:12], uint32(nCh))
	out[12], out[13], out[14], out[15] = fmtF64, fmtF32, fmtF64, fmtF32

	cur := bin1HeaderSize
	specIndexOff := cur
	cur += sb
	chromIndexOff := cur
	cur += cb
	specMetaOff := cur
	cur += smb
	chromMetaOff := cur
	cur += cmb
	dataOff := cur

	type offLen struct {
		off uint64
		ln  uint32
	}
	sx := make([]offLen, nSpec)
	for i, s := range run.Spectra {
		if len(s.MzArray) > 0 {
			off, n := writeF64LE(out, &cur, s.MzArray)
			sx[i] = offLen{off, n}
		}
	}
	sy := make([]offLen, nSpec)
	for i, s := range run.Spectra {
		if len(s.IntensityArray) > 0 {
			off, n := writeF32LE(out, &cur, s.IntensityArray)
			sy[i] = offLen{off, n}
		}
	}
	cx := make([]offLen, nCh)
	for i, c := range run.Chromatograms {
		if len(c.TimeArray) > 0 {
			off, n := writeF64LE(out, &cur, c.TimeArray)
			cx[i] = offLen{off, n}
		}
	}
	cy := make([]offLen, nCh)
	for i, c := range run.Chromatograms {
		if len(c.IntensityArray) > 0 {
			off, n := writeF32LE(out, &cur, c.IntensityArray)
			cy[i] = offLen{off, n}
		}
	}
	cid := make([]offLen, nCh)
	for i, c := range run.Chromatograms {
		if len(c.ID) == 0 {
			continue
		}
		cur = align8(cur)
		off := uint64(cur)
		b := []byte(c.ID)
		copy(out[cur:cur+len(b)], b)
		cur += len(b)
		cid[i] = offLen{off, uint32(len(b))}
	}

	for i := 0; i < nSpec; i++ {
		b := specIndexOff + i*bin1IndexEntrySize
		binary.LittleEndian.PutUint64(out[b+0:b+8], sx[i].off)
		binary.LittleEndian.PutUint32(out[b+8:b+12], sx[i].ln)
		binary.LittleEndian.PutUint64(out[b+12:b+20], sy[i].off)
		binary.LittleEndian.PutUint32(out[b+20:b+24], sy[i].ln)
	}
	for i := 0; i < nCh; i++ {
		b := chromIndexOff + i*bin1IndexEntrySize
		binary.LittleEndian.PutUint64(out[b+0:b+8], cx[i].off)
		binary.LittleEndian.PutUint32(out[b+8:b+12], cx[i].ln)
		binary.LittleEndian.PutUint64(out[b+12:b+20], cy[i].off)
		binary.LittleEndian.PutUint32(out[b+20:b+24], cy[i].ln)
	}

	for i, s := range run.Spectra {
		b := specMetaOff + i*bin1SpecMetaSize
		binary.LittleEndian.PutUint32(out[b+0:b+4], uint32(s.Index))
		binary.LittleEndian.PutUint32(out[b+4:b+8], uint32(s.ArrayLength))
		out[b+8] = u8OrSentinel(s.MSLevel)
		out[b+9] = u8OrSentinel(s.Polarity)
		out[b+10] = u8OrSentinel(s.SpectrumType)
		out[b+11] = 0
		putF64OrSentinel(out, b+12, s.RetentionTime)
		putF64OrSentinel(out, b+20, s.ScanWindowLower)
		putF64OrSentinel(out, b+28, s.ScanWindowUpper)
		putF64OrSentinel(out, b+36, s.TotalIonCurrent)
		putF64OrSentinel(out, b+44, s.BasePeakIntensity)
		putF64OrSentinel(out, b+52, s.BasePeakMz)
		var tgt, low, up, sel *float64
		if s.Precursor != nil {
			tgt, low, up, sel = s.Precursor.IsolationWindowTargetMz, s.Precursor.IsolationWindowLowerOffset, s.Precursor.IsolationWindowUpperOffset, s.Precursor.SelectedIonMz
		}
		putF64OrSentinel(out, b+60, tgt)
		putF64OrSentinel(out, b+68, low)
		putF64OrSentinel(out, b+76, up)
		putF64OrSentinel(out, b+84, sel)
	}

	for i, c := range run.Chromatograms {
		b := chromMetaOff + i*bin1ChromMetaSize
		binary.LittleEndian.PutUint32(out[b+0:b+4], uint32(c.Index))
		binary.LittleEndian.PutUint32(out[b+4:b+8], uint32(c.ArrayLength))
		binary.LittleEndian.PutUint64(out[b+8:b+16], cid[i].off)
		binary.LittleEndian.PutUint32(out[b+16:b+20], cid[i].ln)
	}

	total := uint64(cur)
	if nSpec > 0 {
		binary.LittleEndian.PutUint64(out[16:24], uint64(specIndexOff))
	}
	if nCh > 0 {
		binary.LittleEndian.PutUint64(out[24:32], uint64(chromIndexOff))
	}
	if nSpec > 0 {
		binary.LittleEndian.PutUint64(out[32:40], uint64(specMetaOff))
	}
	if nCh > 0 {
		binary.LittleEndian.PutUint64(out[40:48], uint64(chromMetaOff))
	}
	binary.LittleEndian.PutUint64(out[48:56], uint64(dataOff))
	binary.LittleEndian.PutUint64(out[56:64], total)

	return out[:cur]
}

// EncodeBINS serializes a Run into the arrays-only BINS container: a
// header, spectrum/chromatogram index tables, and the raw m/z/intensity
// and time/intensity payloads, with no per-spectrum or per-chromatogram
// metadata and no chromatogram ids. Used when only the numeric traces
// are needed downstream, per spec.md sec 4.1. A BINS-decoded run has no
// MS level or retention time on its spectra, so CollectMS1Scans (and
// with it the EIC path) finds no MS1 scans in it.
func EncodeBINS(run *Run) []byte {
	if run == nil {
		out := make([]byte, bin1HeaderSize)
		copy(out[0:4], "BINS")
		out[12], out[13], out[14], out[15] = fmtF64, fmtF32, fmtF64, fmtF32
		binary.LittleEndian.PutUint64(out[56:64], bin1HeaderSize)
		return out
	}

	nSpec := len(run.Spectra)
	nCh := len(run.Chromatograms)

	sb := nSpec * bin1IndexEntrySize
	cb := nCh * bin1IndexEntrySize

	plan := bin1HeaderSize + sb + cb
	for _, s := range run.Spectra {
		if len(s.MzArray) > 0 {
			plan = align8(plan) + len(s.MzArray)*8
		}
	}
	for _, s := range run.Spectra {
		if len(s.IntensityArray) > 0 {
			plan = align8(plan) + len(s.IntensityArray)*4
		}
	}
	for _, c := range run.Chromatograms {
		if len(c.TimeArray) > 0 {
			plan = align8(plan) + len(c.TimeArray)*8
		}
	}
	for _, c := range run.Chromatograms {
		if len(c.IntensityArray) > 0 {
			plan = align8(plan) + len(c.IntensityArray)*4
		}
	}

	out := make([]byte, plan)
	copy(out[0:4], "BINS")
	binary.LittleEndian.PutUint32(out[4:8], uint32(nSpec))
	binary.LittleEndian.PutUint32(out[8:12], uint32(nCh))
	out[12], out[13], out[14], out[15] = fmtF64, fmtF32, fmtF64, fmtF32

	cur := bin1HeaderSize
	specIndexOff := cur
	cur += sb
	chromIndexOff := cur
	cur += cb
	dataOff := cur

	type offLen struct {
		off uint64
		ln  uint32
	}
	sx := make([]offLen, nSpec)
	for i, s := range run.Spectra {
		if len(s.MzArray) > 0 {
			off, n := writeF64LE(out, &cur, s.MzArray)
			sx[i] = offLen{off, n}
		}
	}
	sy := make([]offLen, nSpec)
	for i, s := range run.Spectra {
		if len(s.IntensityArray) > 0 {
			off, n := writeF32LE(out, &cur, s.IntensityArray)
			sy[i] = offLen{off, n}
		}
	}
	cx := make([]offLen, nCh)
	for i, c := range run.Chromatograms {
		if len(c.TimeArray) > 0 {
			off, n := writeF64LE(out, &cur, c.TimeArray)
			cx[i] = offLen{off, n}
		}
	}
	cy := make([]offLen, nCh)
	for i, c := range run.Chromatograms {
		if len(c.IntensityArray) > 0 {
			off, n := writeF32LE(out, &cur, c.IntensityArray)
			cy[i] = offLen{off, n}
		}
	}

	for i := 0; i < nSpec; i++ {
		b := specIndexOff + i*bin1IndexEntrySize
		binary.LittleEndian.PutUint64(out[b+0:b+8], sx[i].off)
		binary.LittleEndian.PutUint32(out[b+8:b+12], sx[i].ln)
		binary.LittleEndian.PutUint64(out[b+12:b+20], sy[i].off)
		binary.LittleEndian.PutUint32(out[b+20:b+24], sy[i].ln)
	}
	for i := 0; i < nCh; i++ {
		b := chromIndexOff + i*bin1IndexEntrySize
		binary.LittleEndian.PutUint64(out[b+0:b+8], cx[i].off)
		binary.LittleEndian.PutUint32(out[b+8:b+12], cx[i].ln)
		binary.LittleEndian.PutUint64(out[b+12:b+20], cy[i].off)
		binary.LittleEndian.PutUint32(out[b+20:b+24], cy[i].ln)
	}

	if nSpec > 0 {
		binary.LittleEndian.PutUint64(out[16:24], uint64(specIndexOff))
	}
	if nCh > 0 {
		binary.LittleEndian.PutUint64(out[24:32], uint64(chromIndexOff))
	}
	binary.LittleEndian.PutUint64(out[48:56], uint64(dataOff))
	binary.LittleEndian.PutUint64(out[56:64], uint64(cur))

	return out[:cur]
}

func align8(x int) int { return (x + 7) &^ 7 }

func writeF64LE(buf []byte, cur *int, vals []float64) (uint64, uint32) {
	*cur = align8(*cur)
	off := uint64(*cur)
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[*cur:*cur+8], math.Float64bits(v))
		*cur += 8
	}
	return off, uint32(len(vals))
}

func writeF32LE(buf []byte, cur *int, vals []float32) (uint64, uint32) {
	*cur = align8(*cur)
	off := uint64(*cur)
	for _, v := range vals {
		binary.LittleEndian.PutUint32(buf[*cur:*cur+4], math.Float32bits(v))
		*cur += 4
	}
	return off, uint32(len(vals))
}

func u8OrSentinel(v *uint8) byte {
	if v == nil {
		return 255
	}
	return *v
}

func putF64OrSentinel(buf []byte, pos int, v *float64) {
	val := -1.0
	if v != nil {
		val = *v
	}
	binary.LittleEndian.PutUint64(buf[pos:pos+8], math.Float64bits(val))
}

// DecodeBIN1 parses a BIN1 or BINS buffer into a Run. BIN1 carries full
// spectrum/chromatogram metadata; BINS carries only the raw float arrays,
// so a BINS entry's Index is its position and its ArrayLength is its
// payload length, while its other metadata fields stay unset.
func DecodeBIN1(buf []byte) (*Run, error) {
	if len(buf) < bin1HeaderSize {
		return nil, fmt.Errorf("%w: %w", ErrParse, ErrShortHeader)
	}
	magic := string(buf[0:4])
	if magic != "BIN1" && magic != "BINS" {
		return nil, fmt.Errorf("%w: %w", ErrParse, ErrBadMagic)
	}

	nSpec := int(binary.LittleEndian.Uint32(buf[4:8]))
	nCh := int(binary.LittleEndian.Uint32(buf[8:12]))
	sx, sy, sz, si := buf[12], buf[13], buf[14], buf[15]
	_ = sz
	_ = si

	sIdxOff := int(binary.LittleEndian.Uint64(buf[16:24]))
	cIdxOff := int(binary.LittleEndian.Uint64(buf[24:32]))
	sMetaOff := int(binary.LittleEndian.Uint64(buf[32:40]))
	cMetaOff := int(binary.LittleEndian.Uint64(buf[40:48]))
	dataOff := int(binary.LittleEndian.Uint64(buf[48:56]))
	if dataOff > len(buf) {
		return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
	}

	type idxEntry struct{ xOff, xLen, yOff, yLen uint64 }
	readIdx := func(base int, n int) ([]idxEntry, error) {
		need := n * bin1IndexEntrySize
		if base+need > len(buf) {
			return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
		}
		out := make([]idxEntry, n)
		for i := 0; i < n; i++ {
			b := base + i*bin1IndexEntrySize
			out[i] = idxEntry{
				xOff: binary.LittleEndian.Uint64(buf[b+0 : b+8]),
				xLen: uint64(binary.LittleEndian.Uint32(buf[b+8 : b+12])),
				yOff: binary.LittleEndian.Uint64(buf[b+12 : b+20]),
				yLen: uint64(binary.LittleEndian.Uint32(buf[b+20 : b+24])),
			}
		}
		return out, nil
	}

	sidx, err := readIdx(sIdxOff, nSpec)
	if err != nil {
		return nil, err
	}
	cidx, err := readIdx(cIdxOff, nCh)
	if err != nil {
		return nil, err
	}

	spectra := make([]Spectrum, nSpec)
	chroms := make([]Chromatogram, nCh)

	if magic == "BIN1" {
		need := nSpec * bin1SpecMetaSize
		if sMetaOff+need > len(buf) {
			return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
		}
		for i := 0; i < nSpec; i++ {
			b := sMetaOff + i*bin1SpecMetaSize
			s := Spectrum{
				Index:       uint32(binary.LittleEndian.Uint32(buf[b+0 : b+4])),
				ArrayLength: binary.LittleEndian.Uint32(buf[b+4 : b+8]),
				MSLevel:     readSentinelU8(buf[b+8]),
				Polarity:    readSentinelU8(buf[b+9]),
				SpectrumType: readSentinelU8(buf[b+10]),
			}
			s.RetentionTime = readSentinelF64(readF64(buf, b+12))
			s.ScanWindowLower = readSentinelF64(readF64(buf, b+20))
			s.ScanWindowUpper = readSentinelF64(readF64(buf, b+28))
			s.TotalIonCurrent = readSentinelF64(readF64(buf, b+36))
			s.BasePeakIntensity = readSentinelF64(readF64(buf, b+44))
			s.BasePeakMz = readSentinelF64(readF64(buf, b+52))

			pt := readF64(buf, b+60)
			pl := readF64(buf, b+68)
			pu := readF64(buf, b+76)
			ps := readF64(buf, b+84)
			a, d, e, f := readSentinelF64(pt), readSentinelF64(pl), readSentinelF64(pu), readSentinelF64(ps)
			if a != nil || d != nil || e != nil || f != nil {
				s.Precursor = &Precursor{
					IsolationWindowTargetMz:    a,
					IsolationWindowLowerOffset: d,
					IsolationWindowUpperOffset: e,
					SelectedIonMz:              f,
				}
			}
			spectra[i] = s
		}

		needC := nCh * bin1ChromMetaSize
		if cMetaOff+needC > len(buf) {
			return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
		}
		type idOff struct {
			off uint64
			ln  uint32
		}
		ids := make([]idOff, nCh)
		for i := 0; i < nCh; i++ {
			b := cMetaOff + i*bin1ChromMetaSize
			chroms[i] = Chromatogram{
				Index:       binary.LittleEndian.Uint32(buf[b+0 : b+4]),
				ArrayLength: binary.LittleEndian.Uint32(buf[b+4 : b+8]),
			}
			ids[i] = idOff{
				off: binary.LittleEndian.Uint64(buf[b+8 : b+16]),
				ln:  binary.LittleEndian.Uint32(buf[b+16 : b+20]),
			}
		}

		for i, e := range sidx {
			arr, err := readArrayAsF64(buf, e.xOff, uint32(e.xLen), sx)
			if err != nil {
				return nil, err
			}
			spectra[i].MzArray = arr
		}
		for i, e := range sidx {
			arr, err := readArrayAsF64(buf, e.yOff, uint32(e.yLen), sy)
			if err != nil {
				return nil, err
			}
			spectra[i].IntensityArray = toF32(arr)
		}
		for i, e := range cidx {
			arr, err := readArrayAsF64(buf, e.xOff, uint32(e.xLen), sx)
			if err != nil {
				return nil, err
			}
			chroms[i].TimeArray = arr
		}
		for i, e := range cidx {
			arr, err := readArrayAsF64(buf, e.yOff, uint32(e.yLen), sy)
			if err != nil {
				return nil, err
			}
			chroms[i].IntensityArray = toF32(arr)
		}

		for i, e := range ids {
			if e.off == 0 || e.ln == 0 {
				continue
			}
			o, l := int(e.off), int(e.ln)
			if o+l > len(buf) {
				return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
			}
			chroms[i].ID = string(buf[o : o+l])
		}
	} else {
		for i := range spectra {
			spectra[i] = Spectrum{Index: uint32(i)}
		}
		for i := range chroms {
			chroms[i] = Chromatogram{Index: uint32(i)}
		}
		for i, e := range sidx {
			arr, err := readArrayAsF64(buf, e.xOff, uint32(e.xLen), sx)
			if err != nil {
				return nil, err
			}
			spectra[i].MzArray = arr
			spectra[i].ArrayLength = maxU32(spectra[i].ArrayLength, uint32(len(arr)))
		}
		for i, e := range sidx {
			arr, err := readArrayAsF64(buf, e.yOff, uint32(e.yLen), sy)
			if err != nil {
				return nil, err
			}
			f32arr := toF32(arr)
			spectra[i].IntensityArray = f32arr
			spectra[i].ArrayLength = maxU32(spectra[i].ArrayLength, uint32(len(f32arr)))
		}
		for i, e := range cidx {
			arr, err := readArrayAsF64(buf, e.xOff, uint32(e.xLen), sx)
			if err != nil {
				return nil, err
			}
			chroms[i].TimeArray = arr
			chroms[i].ArrayLength = maxU32(chroms[i].ArrayLength, uint32(len(arr)))
		}
		for i, e := range cidx {
			arr, err := readArrayAsF64(buf, e.yOff, uint32(e.yLen), sy)
			if err != nil {
				return nil, err
			}
			f32arr := toF32(arr)
			chroms[i].IntensityArray = f32arr
			chroms[i].ArrayLength = maxU32(chroms[i].ArrayLength, uint32(len(f32arr)))
		}
	}

	return &Run{Spectra: spectra, Chromatograms: chroms}, nil
}

func maxU32(a, b uint32) uint32 {
	if b > a {
		return b
	}
	return a
}

func toF32(v []float64) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func readF64(buf []byte, pos int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[pos : pos+8]))
}

func readSentinelU8(v byte) *uint8 {
	if v == 255 {
		return nil
	}
	out := v
	return &out
}

func readSentinelF64(v float64) *float64 {
	if v < 0 {
		return nil
	}
	out := v
	return &out
}

func readArrayAsF64(buf []byte, off uint64, length uint32, format byte) ([]float64, error) {
	if off == 0 || length == 0 {
		return nil, nil
	}
	o := int(off)
	n := int(length)
	switch format {
	case fmtF64:
		need := n * 8
		if o+need > len(buf) {
			return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
		}
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = readF64(buf, o+i*8)
		}
		return out, nil
	case fmtF32:
		need := n * 4
		if o+need > len(buf) {
			return nil, fmt.Errorf("%w: %w", ErrParse, ErrOffsetOutOfBounds)
		}
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[o+i*4 : o+i*4+4])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown array format byte %d", ErrParse, format)
	}
}
