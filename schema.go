package msut

import (
	"errors"
	"math"
	"reflect"
	"strings"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	stgpsr "github.com/yuin/stagparser"
)

var ErrCreateAttributeTdb = errors.New("Error Creating Attribute for TileDB Array")
var ErrCreateSpectraDenseTdb = errors.New("Error Creating Dense Spectra TileDB Array")
var ErrCreatePeaksSparseTdb = errors.New("Error Creating Sparse Peaks TileDB Array")
var ErrCreateSchemaTdb = errors.New("Error Creating TileDB Schema")

// pascalCase convert a string separated by underscores into
// PascalCase. For example, ALPHA_BETA_GAMMA -> AlphaBetaGamma.
func pascalCase(name string) (result string) {
	result = ""
	split := strings.Split(name, "_")

	for _, v := range split {
		low := strings.ToLower(v)
		result += strings.ToUpper(string(low[0])) + low[1:]
	}

	return result
}

func fieldNames(t any) (names []string) {
	names = make([]string, 0, 10)

	btype := reflect.TypeOf(t)
	for i := 0; i < btype.NumField(); i++ {
		if btype.Field(i).IsExported() {
			names = append(names, btype.Field(i).Name)
		}
	}
	return names
}

// chunkedStructSlices is a helper func for initialising a struct's slice
// fields to a defined capacity, e.g. SpectraMeta where every slice will
// be of length n_spectra. This reduces reallocation overhead while
// appending row-by-row.
func chunkedStructSlices(t any, length int) error {
	values := reflect.ValueOf(t).Elem()
	types := reflect.TypeOf(t).Elem()
	for i := 0; i < values.NumField(); i++ {
		field := values.Field(i)
		ft := field.Type()
		if types.Field(i).IsExported() {
			field.Set(reflect.MakeSlice(ft, 0, length))
		}
	}

	return nil
}

func schemaAttrs(t any, schema *tiledb.ArraySchema, ctx *tiledb.Context) error {
	var (
		field_tdb_defs map[string]stgpsr.Definition
		def            stgpsr.Definition
		status         bool
	)
	values := reflect.ValueOf(t).Elem()
	types := values.Type()
	filt_defs, _ := stgpsr.ParseStruct(t, "filters")
	tdb_defs, _ := stgpsr.ParseStruct(t, "tiledb")

	// process every field in the struct
	for i := 0; i < values.NumField(); i++ {
		name := types.Field(i).Name

		field_filt_defs := filt_defs[name]

		// a mapping just seemed easier to pull required defs
		// rather than a simple listing
		field_tdb_defs = make(map[string]stgpsr.Definition)
		for _, v := range tdb_defs[name] {
			field_tdb_defs[v.Name()] = v
		}

		// pull the field type and ignore dimension fields
		def, status = field_tdb_defs["ftype"]
		if status == false {
			return errors.Join(ErrCreateAttributeTdb, errors.New("ftype tag not found"))
		}
		ftype, _ := def.Attribute("ftype")
		if ftype == "dim" {
			// ignore dimensions
			continue
		}

		err := CreateAttr(name, field_filt_defs, field_tdb_defs, schema, ctx)
		if err != nil {
			return errors.Join(ErrCreateAttributeTdb, err)
		}
	}
	return nil
}

// SpectraMeta is the columnar (struct-of-slices) record written to the
// dense spectra metadata array: one row per spectrum, indexed by its
// position in the run.
type SpectraMeta struct {
	Index             []uint64  `tiledb:"dtype=uint64,ftype=dim"`
	RetentionTime     []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	MSLevel           []uint8   `tiledb:"dtype=uint8,ftype=attr" filters:"rle(level=-1)"`
	Polarity          []uint8   `tiledb:"dtype=uint8,ftype=attr" filters:"rle(level=-1)"`
	TotalIonCurrent   []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	BasePeakMz        []float64 `tiledb:"dtype=float64,ftype=attr" filters:"gzip(level=6)"`
	BasePeakIntensity []float64 `tiledb:"dtype=float64,ftype=attr" filters:"bzip2(level=6)"`
	ScanWindowLower   []float64 `tiledb:"dtype=float64,ftype=attr" filters:"lz4(level=6)"`
	ScanWindowUpper   []float64 `tiledb:"dtype=float64,ftype=attr" filters:"lz4(level=6)"`
}

// PeaksTable is the columnar record written to the sparse peaks array:
// one row per detected peak, keyed by its (RT, Mz) location. NP (point
// count per peak) is small and bounded, so it gets bit-width reduction
// ahead of zstd; the float columns split across gzip/bzip2/lz4/zstd.
type PeaksTable struct {
	RT        []float64 `tiledb:"dtype=float64,ftype=dim" filters:"zstd(level=16)"`
	Mz        []float64 `tiledb:"dtype=float64,ftype=dim" filters:"zstd(level=16)"`
	From      []float64 `tiledb:"dtype=float64,ftype=attr" filters:"lz4(level=6)"`
	To        []float64 `tiledb:"dtype=float64,ftype=attr" filters:"lz4(level=6)"`
	Intensity []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	Integral  []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	Ratio     []float64 `tiledb:"dtype=float64,ftype=attr" filters:"gzip(level=6)"`
	Noise     []float64 `tiledb:"dtype=float64,ftype=attr" filters:"bzip2(level=6)"`
	NP        []uint32  `tiledb:"dtype=uint32,ftype=attr" filters:"bitw(window=-1),zstd(level=16)"`
}

// spectraDenseSchema builds a dense array schema keyed by spectrum index,
// one tile per up-to-50000 spectra, matching the teacher's ping-metadata
// dense layout (positive-delta + zstd on the dimension; each attribute's
// filters come from its SpectraMeta tag).
func spectraDenseSchema(ctx *tiledb.Context, nSpectra uint64) (*tiledb.ArraySchema, error) {
	tile_sz := uint64(math.Min(float64(50000), float64(nSpectra)))
	if tile_sz == 0 {
		tile_sz = 1
	}

	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer domain.Free()

	upper := uint64(0)
	if nSpectra > 0 {
		upper = nSpectra - 1
	}
	dim, err := tiledb.NewDimension(ctx, "SPECTRUM_ID", tiledb.TILEDB_UINT64, []uint64{0, upper}, tile_sz)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer dim.Free()

	dim_filters, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer dim_filters.Free()

	dim_f1, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_POSITIVE_DELTA)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer dim_f1.Free()

	level := int32(16)
	dim_f2, err := ZstdFilter(ctx, level)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer dim_f2.Free()

	err = AddFilters(dim_filters, dim_f1, dim_f2)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	err = dim.SetFilterList(dim_filters)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = domain.AddDimensions(dim)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = schema.SetDomain(domain)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = schemaAttrs(&SpectraMeta{}, schema, ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = schema.Check()
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	return schema, nil
}

// peaksSparseSchema builds a sparse array schema for detected peaks, keyed
// by (RT, Mz) with Hilbert cell ordering, matching the teacher's
// lon/lat-keyed beam sparse layout.
func peaksSparseSchema(ctx *tiledb.Context) (schema *tiledb.ArraySchema, err error) {
	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer domain.Free()

	tile_sz := uint64(1000)
	min_f64 := math.MaxFloat64 * -1

	rtdim, err := tiledb.NewDimension(ctx, "RT", tiledb.TILEDB_FLOAT64, []float64{min_f64, math.MaxFloat64}, tile_sz)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer rtdim.Free()

	mzdim, err := tiledb.NewDimension(ctx, "Mz", tiledb.TILEDB_FLOAT64, []float64{min_f64, math.MaxFloat64}, tile_sz)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer mzdim.Free()

	dim_filters, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer dim_filters.Free()

	level := int32(16)
	dim_filt, err := ZstdFilter(ctx, level)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}
	defer dim_filt.Free()

	err = AddFilters(dim_filters, dim_filt)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = rtdim.SetFilterList(dim_filters)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = mzdim.SetFilterList(dim_filters)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = domain.AddDimensions(rtdim, mzdim)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	schema, err = tiledb.NewArraySchema(ctx, tiledb.TILEDB_SPARSE)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schema.SetDomain(domain)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schema.SetCapacity(100_000)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schema.SetCellOrder(tiledb.TILEDB_HILBERT)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schema.SetAllowsDups(true)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	err = schemaAttrs(&PeaksTable{}, schema, ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	err = schema.Check()
	if err != nil {
		return nil, errors.Join(ErrCreateAttributeTdb, err)
	}

	return schema, nil
}

// CreateFeatureArrays creates the empty dense spectra-metadata array and
// sparse peaks array on disk (or an object store), returning each
// schema's attribute names for later query construction.
func (run *Run) CreateFeatureArrays(spectra_uri, peaks_uri string, spectra_ctx, peaks_ctx *tiledb.Context) (spectra_names, peak_names []string, err error) {
	spectra_schema, err := spectraDenseSchema(spectra_ctx, uint64(len(run.Spectra)))
	if err != nil {
		return nil, nil, err
	}
	defer spectra_schema.Free()

	peaks_schema, err := peaksSparseSchema(peaks_ctx)
	if err != nil {
		return nil, nil, err
	}
	defer peaks_schema.Free()

	spectra_array, err := tiledb.NewArray(spectra_ctx, spectra_uri)
	if err != nil {
		return nil, nil, errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	defer spectra_array.Free()

	err = spectra_array.Create(spectra_schema)
	if err != nil {
		return nil, nil, errors.Join(ErrCreateSpectraDenseTdb, err)
	}

	peaks_array, err := tiledb.NewArray(peaks_ctx, peaks_uri)
	if err != nil {
		return nil, nil, errors.Join(ErrCreatePeaksSparseTdb, err)
	}
	defer peaks_array.Free()

	err = peaks_array.Create(peaks_schema)
	if err != nil {
		return nil, nil, errors.Join(ErrCreatePeaksSparseTdb, err)
	}

	if err := WriteArrayMetadata(spectra_ctx, spectra_uri, "run_quality", run.QInfo()); err != nil {
		return nil, nil, errors.Join(ErrCreateSpectraDenseTdb, err)
	}

	attrs, err := spectra_schema.Attributes()
	if err != nil {
		return nil, nil, err
	}
	spectra_names = make([]string, len(attrs))
	for k, v := range attrs {
		name, err := v.Name()
		if err != nil {
			return nil, nil, err
		}
		spectra_names[k] = name
	}

	attrs, err = peaks_schema.Attributes()
	if err != nil {
		return nil, nil, err
	}
	peak_names = make([]string, len(attrs))
	for k, v := range attrs {
		name, err := v.Name()
		if err != nil {
			return nil, nil, err
		}
		peak_names[k] = name
	}

	return spectra_names, peak_names, nil
}

// WriteSpectraMetaTileDB populates a previously-created dense spectra
// metadata array (see CreateFeatureArrays) with one row per run.Spectra
// entry, keyed by spectrum index. Sentinel handling mirrors BIN1's: a nil
// optional field is written as -1 (floats) or 255 (MSLevel/Polarity), the
// same convention EncodeBIN1/DecodeBIN1 use, so the two stores never disagree on
// what "absent" means.
func (run *Run) WriteSpectraMetaTileDB(uri string, ctx *tiledb.Context) error {
	n := uint64(len(run.Spectra))
	if n == 0 {
		return nil
	}

	meta := &SpectraMeta{}
	if err := chunkedStructSlices(meta, int(n)); err != nil {
		return err
	}
	for _, s := range run.Spectra {
		meta.RetentionTime = append(meta.RetentionTime, floatOrSentinel(s.RetentionTime, -1))
		meta.MSLevel = append(meta.MSLevel, u8OrSentinel(s.MSLevel))
		meta.Polarity = append(meta.Polarity, u8OrSentinel(s.Polarity))
		meta.TotalIonCurrent = append(meta.TotalIonCurrent, floatOrSentinel(s.TotalIonCurrent, -1))
		meta.BasePeakMz = append(meta.BasePeakMz, floatOrSentinel(s.BasePeakMz, -1))
		meta.BasePeakIntensity = append(meta.BasePeakIntensity, floatOrSentinel(s.BasePeakIntensity, -1))
		meta.ScanWindowLower = append(meta.ScanWindowLower, floatOrSentinel(s.ScanWindowLower, -1))
		meta.ScanWindowUpper = append(meta.ScanWindowUpper, floatOrSentinel(s.ScanWindowUpper, -1))
	}

	array, err := ArrayOpen(ctx, uri, tiledb.TILEDB_WRITE)
	if err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	if err := setStructFieldBuffers(query, meta); err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}

	subarr, err := array.NewSubarray()
	if err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	defer subarr.Free()

	rng := tiledb.MakeRange(uint64(0), n-1)
	if err := subarr.AddRangeByName("SPECTRUM_ID", rng); err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	if err := query.SetSubarray(subarr); err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}

	if err := query.Submit(); err != nil {
		return errors.Join(ErrCreateSpectraDenseTdb, err)
	}
	return query.Finalize()
}

// WriteFeaturesTileDB populates a previously-created sparse peaks array
// with one row per detected feature, keyed by (RT, Mz): the optional
// results sink named in SPEC_FULL.md's domain-stack section. Caller-facing
// string identity (Feature.ID) is not written here — it belongs in the
// JSON sidecar produced by WriteJson, the same division of labour the
// teacher keeps between its TileDB arrays (numeric beam data) and its
// JSON files (metadata, index).
func WriteFeaturesTileDB(uri string, ctx *tiledb.Context, features []Feature) error {
	n := len(features)
	if n == 0 {
		return nil
	}

	table := &PeaksTable{}
	if err := chunkedStructSlices(table, n); err != nil {
		return err
	}
	for _, f := range features {
		table.RT = append(table.RT, f.RT)
		table.Mz = append(table.Mz, f.Mz)
		table.From = append(table.From, f.From)
		table.To = append(table.To, f.To)
		table.Intensity = append(table.Intensity, f.Intensity)
		table.Integral = append(table.Integral, f.Integral)
		table.Ratio = append(table.Ratio, 0)
		table.Noise = append(table.Noise, f.Noise)
		table.NP = append(table.NP, uint32(f.NP))
	}

	array, err := ArrayOpen(ctx, uri, tiledb.TILEDB_WRITE)
	if err != nil {
		return errors.Join(ErrCreatePeaksSparseTdb, err)
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return errors.Join(ErrCreatePeaksSparseTdb, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_UNORDERED); err != nil {
		return errors.Join(ErrCreatePeaksSparseTdb, err)
	}
	if err := setStructFieldBuffers(query, table); err != nil {
		return errors.Join(ErrCreatePeaksSparseTdb, err)
	}

	if err := query.Submit(); err != nil {
		return errors.Join(ErrCreatePeaksSparseTdb, err)
	}
	return query.Finalize()
}

func floatOrSentinel(v *float64, sentinel float64) float64 {
	if v == nil {
		return sentinel
	}
	return *v
}
