package msut

import (
	"github.com/samber/lo"
)

// RunQuality summarises structural quality signals across a Run's spectra,
// the way a multi-ping sonar file's QualityInfo flags inconsistent beam
// counts or duplicate pings: here the analogous risks are inconsistent
// array lengths and duplicate retention times between scans.
type RunQuality struct {
	MinMaxArrayLength     []uint32
	ConsistentArrayLength bool
	CoincidentScans       bool
	DuplicateScans        bool
	Duplicates            []float64
	ConsistentMSLevels    bool
}

// QInfo inspects run.Spectra and reports the same class of structural
// inconsistencies a multi-scan acquisition can exhibit: array lengths that
// differ across scans (reported as the min/max length and whether they are
// equal), and duplicate
// retention time stamps (which can mean either a genuine duplicate scan
// or a dual-detector/interleaved acquisition recording two scans at the
// same nominal time).
func (run *Run) QInfo() RunQuality {
	n := len(run.Spectra)
	lengths := make([]uint32, n)
	rts := make([]float64, 0, n)
	withLevel := 0

	for i, s := range run.Spectra {
		lengths[i] = s.ArrayLength
		if s.RetentionTime != nil {
			rts = append(rts, *s.RetentionTime)
		}
		if s.MSLevel != nil {
			withLevel++
		}
	}

	var qa RunQuality
	if n > 0 {
		qa.MinMaxArrayLength = []uint32{lo.Min(lengths), lo.Max(lengths)}
		qa.ConsistentArrayLength = qa.MinMaxArrayLength[0] == qa.MinMaxArrayLength[1]
	}

	duplicateRTs := lo.FindDuplicates(rts)
	coincident := false
	duplicateScans := false
	if len(duplicateRTs) > 0 {
		// a duplicate count of exactly half the retention times looks like a
		// consistent dual-acquisition pattern rather than bad data.
		if float64(len(rts))/2.0 != float64(len(duplicateRTs)) {
			duplicateScans = true
		} else {
			coincident = true
		}
	}
	qa.CoincidentScans = coincident
	qa.DuplicateScans = duplicateScans
	if duplicateScans {
		qa.Duplicates = duplicateRTs
	} else {
		qa.Duplicates = []float64{}
	}

	// every scan should carry an MS level; a file missing it on some
	// scans but not others points at an inconsistent writer.
	qa.ConsistentMSLevels = n == 0 || withLevel == 0 || withLevel == n

	return qa
}
