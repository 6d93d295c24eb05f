package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// sanitizeForFilename replaces every character that isn't alphanumeric,
// '-', '_', or '.' with '_', the same rule the original benchmark's
// filename sanitizer applies to both the model tag and the CPU name.
func sanitizeForFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// cpuName returns the host's model name via gopsutil, or "" if it
// can't be read; the CSV filename simply omits the suffix in that case.
func cpuName() string {
	info, err := cpu.Info()
	if err != nil || len(info) == 0 {
		return ""
	}
	return strings.TrimSpace(info[0].ModelName)
}

// WriteCSV writes results to outDir, named
// bench_<tag>_<yyyymmdd>[_<cpu>].csv, and returns the path written.
func WriteCSV(results []StageResult, tag string, outDir string, stamp time.Time) (string, error) {
	name := fmt.Sprintf("bench_%s_%s", sanitizeForFilename(tag), stamp.Format("20060102"))
	if suffix := sanitizeForFilename(cpuName()); suffix != "" {
		name += "_" + suffix
	}
	path := filepath.Join(outDir, name+".csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("bench: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("context_length_k,ttft_avg_s,ttft_std_s,ttft_min_s,ttft_max_s,prefill_avg_toks_per_s,prefill_std_toks_per_s,prefill_min_toks_per_s,prefill_max_toks_per_s,decoding_avg_toks_per_s,decoding_std_toks_per_s,decoding_min_toks_per_s,decoding_max_toks_per_s\n"); err != nil {
		return "", err
	}
	for _, r := range results {
		row := fmt.Sprintf("%d,%.6f,%.6f,%.6f,%.6f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f\n",
			r.ContextLengthK,
			r.TTFT.Average, r.TTFT.StdDev, r.TTFT.Min, r.TTFT.Max,
			r.PrefillSpeed.Average, r.PrefillSpeed.StdDev, r.PrefillSpeed.Min, r.PrefillSpeed.Max,
			r.DecodingSpeed.Average, r.DecodingSpeed.StdDev, r.DecodingSpeed.Min, r.DecodingSpeed.Max,
		)
		if _, err := f.WriteString(row); err != nil {
			return "", err
		}
	}
	return path, nil
}
