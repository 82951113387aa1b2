// Command msut is the CLI front end over the core library: decode/encode
// BIN1 containers, compute EICs, run the peak-finding pipeline, and run
// the 2-D feature detector, the way the teacher's cmd/main.go drives GSF
// conversion with one subcommand per operation.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/alitto/pond"
	"github.com/urfave/cli/v2"

	"github.com/soriom/msut"
	"github.com/soriom/msut/search"
)

func loadRun(uri, configUri string) (*msut.Run, error) {
	buf, err := readURI(uri, configUri)
	if err != nil {
		return nil, err
	}
	return msut.DecodeBIN1(buf)
}

// readURI reads uri fully via the TileDB VFS layer and msut.GenericStream,
// so a caller can point at a local path or an object store URI without the
// CLI caring which.
func readURI(uri, configUri string) ([]byte, error) {
	config, err := loadConfig(configUri)
	if err != nil {
		return nil, err
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return nil, err
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return nil, err
	}
	defer vfs.Free()

	handler, err := vfs.Open(uri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return nil, err
	}
	defer handler.Close()

	size, err := vfs.FileSize(uri)
	if err != nil {
		return nil, err
	}

	stream, err := msut.GenericStream(handler, size, true)
	if err != nil {
		return nil, err
	}

	buffer := make([]byte, size)
	if _, err := stream.Read(buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func loadConfig(configUri string) (*tiledb.Config, error) {
	if configUri == "" {
		return tiledb.NewConfig()
	}
	return tiledb.LoadConfig(configUri)
}

// cmdDecodeInfo decodes a BIN1/BINS file and writes its structural QA
// summary (run.QInfo()) as JSON; the spectrum and chromatogram counts are
// only logged.
func cmdDecodeInfo(cCtx *cli.Context) error {
	uri := cCtx.String("uri")
	configUri := cCtx.String("config-uri")
	outUri := cCtx.String("out-uri")

	run, err := loadRun(uri, configUri)
	if err != nil {
		return err
	}

	qa := run.QInfo()
	log.Println("Decoded run:", len(run.Spectra), "spectra,", len(run.Chromatograms), "chromatograms")

	if outUri == "" {
		jsn, err := msut.JsonIndentDumps(qa)
		if err != nil {
			return err
		}
		fmt.Println(jsn)
		return nil
	}
	_, err = msut.WriteJson(outUri, configUri, qa)
	return err
}

// cmdEncode decodes a BIN1/BINS file and re-encodes it, optionally
// switching between the full-metadata BIN1 variant and the arrays-only
// BINS variant.
func cmdEncode(cCtx *cli.Context) error {
	uri := cCtx.String("uri")
	configUri := cCtx.String("config-uri")
	outUri := cCtx.String("out-uri")
	arraysOnly := cCtx.Bool("arrays-only")

	run, err := loadRun(uri, configUri)
	if err != nil {
		return err
	}

	var out []byte
	if arraysOnly {
		out = msut.EncodeBINS(run)
	} else {
		out = msut.EncodeBIN1(run)
	}
	log.Println("Encoded", len(out), "bytes to", outUri)
	return writeURI(outUri, configUri, out)
}

func writeURI(uri, configUri string, data []byte) error {
	config, err := loadConfig(configUri)
	if err != nil {
		return err
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return err
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return err
	}
	defer vfs.Free()

	stream, err := vfs.Open(uri, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return err
	}
	defer stream.Close()

	_, err = stream.Write(data)
	return err
}

// cmdEic computes a single-target EIC and writes (x, y) as JSON.
func cmdEic(cCtx *cli.Context) error {
	run, err := loadRun(cCtx.String("uri"), cCtx.String("config-uri"))
	if err != nil {
		return err
	}

	window := msut.FromTo{From: cCtx.Float64("rt-from"), To: cCtx.Float64("rt-to")}
	opts := msut.EicOptions{PpmTolerance: cCtx.Float64("ppm-tolerance"), MzTolerance: cCtx.Float64("mz-tolerance")}

	eic := msut.CalculateEIC(run, cCtx.Float64("mz"), window, opts)
	log.Println("Computed EIC:", len(eic.X), "points")

	return dumpOrWrite(eic, cCtx.String("out-uri"), cCtx.String("config-uri"))
}

// cmdPeaks computes an EIC for a target m/z and finds the best peak near
// a requested retention time.
func cmdPeaks(cCtx *cli.Context) error {
	run, err := loadRun(cCtx.String("uri"), cCtx.String("config-uri"))
	if err != nil {
		return err
	}

	// GetPeaksFromEIC takes the window as offsets around roi.RT, while the
	// rt-from/rt-to flags are absolute bounds.
	rt := cCtx.Float64("rt")
	window := msut.FromTo{From: rt - cCtx.Float64("rt-from"), To: cCtx.Float64("rt-to") - rt}
	roi := msut.EicRoi{ID: cCtx.String("id"), RT: rt, Mz: cCtx.Float64("mz"), Window: cCtx.Float64("rt-window")}
	opts := msut.DefaultFindPeaksOptions()
	if cCtx.Bool("auto-noise") {
		opts.FilterPeaksOptions.AutoNoise = true
	}

	cores := cCtx.Int("cores")
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	results := msut.GetPeaksFromEIC(run, window, []msut.EicRoi{roi}, opts, cores)
	log.Println("Found", len(results), "peak result(s)")

	return dumpOrWrite(results, cCtx.String("out-uri"), cCtx.String("config-uri"))
}

// cmdFeatures runs the 2-D m/z x rt feature detector across a scan grid
// and optionally sinks the results into a TileDB sparse array in addition
// to the JSON output.
func cmdFeatures(cCtx *cli.Context) error {
	run, err := loadRun(cCtx.String("uri"), cCtx.String("config-uri"))
	if err != nil {
		return err
	}

	window := msut.FromTo{From: cCtx.Float64("rt-from"), To: cCtx.Float64("rt-to")}
	opts := msut.DefaultFindFeaturesOptions()
	if cCtx.Float64("mz-min") > 0 {
		opts.MzScanGrid.MzMin = cCtx.Float64("mz-min")
	}
	if cCtx.Float64("mz-max") > 0 {
		opts.MzScanGrid.MzMax = cCtx.Float64("mz-max")
	}
	if cCtx.Float64("step-da") > 0 {
		opts.MzScanGrid.StepSize = cCtx.Float64("step-da")
	}

	cores := cCtx.Int("cores")
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	features := msut.FindFeatures(run, window, opts, cores)
	log.Println("Found", len(features), "feature(s)")

	if tdbUri := cCtx.String("tiledb-uri"); tdbUri != "" {
		config, err := loadConfig(cCtx.String("config-uri"))
		if err != nil {
			return err
		}
		defer config.Free()
		ctx, err := tiledb.NewContext(config)
		if err != nil {
			return err
		}
		defer ctx.Free()

		if err := msut.WriteFeaturesTileDB(tdbUri, ctx, features); err != nil {
			return err
		}
		log.Println("Wrote features to TileDB array:", tdbUri)
	}

	return dumpOrWrite(features, cCtx.String("out-uri"), cCtx.String("config-uri"))
}

func dumpOrWrite(v any, outUri, configUri string) error {
	if outUri == "" {
		jsn, err := msut.JsonIndentDumps(v)
		if err != nil {
			return err
		}
		fmt.Println(jsn)
		return nil
	}
	_, err := msut.WriteJson(outUri, configUri, v)
	return err
}

// cmdSearch trawls a directory (or object store prefix) for BIN1 or mzML
// files, the way the teacher's search package trawls for GSF files.
func cmdSearch(cCtx *cli.Context) error {
	uri := cCtx.String("uri")
	configUri := cCtx.String("config-uri")

	var items []string
	switch cCtx.String("kind") {
	case "mzml":
		items = search.FindMzML(uri, configUri)
	default:
		items = search.FindBIN1(uri, configUri)
	}

	for _, item := range items {
		fmt.Println(item)
	}
	return nil
}

// cmdFeaturesBatch finds features across every BIN1 file under a uri,
// fanning the work out across a fixed-size pool the way the teacher's
// convert_gsf_list does for GSF conversion.
func cmdFeaturesBatch(cCtx *cli.Context) error {
	uri := cCtx.String("uri")
	configUri := cCtx.String("config-uri")
	outdir := cCtx.String("outdir-uri")
	window := msut.FromTo{From: cCtx.Float64("rt-from"), To: cCtx.Float64("rt-to")}
	opts := msut.DefaultFindFeaturesOptions()

	items := search.FindBIN1(uri, configUri)
	log.Println("Number of BIN1 files to process:", len(items))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n := runtime.NumCPU() * 2
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))
	defer pool.StopAndWait()

	for _, name := range items {
		itemUri := name
		pool.Submit(func() {
			run, err := loadRun(itemUri, configUri)
			if err != nil {
				log.Println("Error decoding", itemUri, ":", err)
				return
			}
			features := msut.FindFeatures(run, window, opts, runtime.NumCPU())
			outUri := itemUri + "-features.json"
			if outdir != "" {
				outUri = outdir + "/" + outUri
			}
			if _, err := msut.WriteJson(outUri, configUri, features); err != nil {
				log.Println("Error writing", outUri, ":", err)
			}
		})
	}

	return nil
}

func main() {
	uriFlag := &cli.StringFlag{Name: "uri", Usage: "URI or pathname to a BIN1/BINS file."}
	configFlag := &cli.StringFlag{Name: "config-uri", Usage: "URI or pathname to a TileDB config file."}
	outFlag := &cli.StringFlag{Name: "out-uri", Usage: "URI to write JSON output to; stdout if omitted."}
	rtFromFlag := &cli.Float64Flag{Name: "rt-from", Usage: "Retention-time window lower bound."}
	rtToFlag := &cli.Float64Flag{Name: "rt-to", Usage: "Retention-time window upper bound."}
	coresFlag := &cli.IntFlag{Name: "cores", Usage: "Worker count for parallel fan-out; defaults to NumCPU."}

	app := &cli.App{
		Name:  "msut",
		Usage: "BIN1 container, EIC, and peak-finding operations",
		Commands: []*cli.Command{
			{
				Name:   "decode-info",
				Usage:  "Decode a BIN1/BINS file and report a structural QA summary.",
				Flags:  []cli.Flag{uriFlag, configFlag, outFlag},
				Action: cmdDecodeInfo,
			},
			{
				Name:  "encode",
				Usage: "Decode a BIN1/BINS file and re-encode it, optionally switching variants.",
				Flags: []cli.Flag{
					uriFlag, configFlag,
					&cli.StringFlag{Name: "out-uri", Usage: "URI to write the encoded container to.", Required: true},
					&cli.BoolFlag{Name: "arrays-only", Usage: "Write the BINS (arrays-only) variant instead of BIN1."},
				},
				Action: cmdEncode,
			},
			{
				Name:  "eic",
				Usage: "Compute a single-target extracted-ion chromatogram.",
				Flags: []cli.Flag{
					uriFlag, configFlag, outFlag, rtFromFlag, rtToFlag,
					&cli.Float64Flag{Name: "mz", Required: true, Usage: "Target m/z."},
					&cli.Float64Flag{Name: "ppm-tolerance", Value: 20.0, Usage: "ppm tolerance."},
					&cli.Float64Flag{Name: "mz-tolerance", Value: 0.005, Usage: "Absolute m/z tolerance floor."},
				},
				Action: cmdEic,
			},
			{
				Name:  "peaks",
				Usage: "Find the best peak for one EIC target near a requested retention time.",
				Flags: []cli.Flag{
					uriFlag, configFlag, outFlag, rtFromFlag, rtToFlag, coresFlag,
					&cli.StringFlag{Name: "id", Usage: "Caller-supplied identity for the target."},
					&cli.Float64Flag{Name: "mz", Required: true, Usage: "Target m/z."},
					&cli.Float64Flag{Name: "rt", Required: true, Usage: "Expected apex retention time."},
					&cli.Float64Flag{Name: "rt-window", Value: 0.5, Usage: "Half-width in rt-units around rt."},
					&cli.BoolFlag{Name: "auto-noise", Usage: "Estimate noise automatically instead of using the default gate."},
				},
				Action: cmdPeaks,
			},
			{
				Name:  "features",
				Usage: "Run the 2-D m/z x rt feature detector over a scan grid.",
				Flags: []cli.Flag{
					uriFlag, configFlag, outFlag, rtFromFlag, rtToFlag, coresFlag,
					&cli.Float64Flag{Name: "mz-min", Usage: "Lower bound of the coarse m/z scan grid."},
					&cli.Float64Flag{Name: "mz-max", Usage: "Upper bound of the coarse m/z scan grid."},
					&cli.Float64Flag{Name: "step-da", Usage: "Coarse m/z scan grid step, in Da."},
					&cli.StringFlag{Name: "tiledb-uri", Usage: "Optional sparse TileDB array to also sink results into."},
				},
				Action: cmdFeatures,
			},
			{
				Name:  "search",
				Usage: "Recursively list BIN1 or mzML files under a URI (local path or object store).",
				Flags: []cli.Flag{
					uriFlag, configFlag,
					&cli.StringFlag{Name: "kind", Value: "bin1", Usage: "bin1 or mzml."},
				},
				Action: cmdSearch,
			},
			{
				Name:  "features-batch",
				Usage: "Find features across every BIN1 file under a URI, writing one JSON sidecar per input.",
				Flags: []cli.Flag{
					uriFlag, configFlag, rtFromFlag, rtToFlag,
					&cli.StringFlag{Name: "outdir-uri", Usage: "Directory to write JSON sidecars into; alongside each input if omitted."},
				},
				Action: cmdFeaturesBatch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
