package catalog

import (
	"fmt"
)

// RuntimeVersion is this build's release version, compared against a
// catalog entry's flm_min_version the way the original downloader
// compares __FLM_VERSION__ against a model's minimum requirement.
const RuntimeVersion = "0.9.0"

func parseSemver(v string) (major, minor, patch int, err error) {
	_, err = fmt.Sscanf(v, "%d.%d.%d", &major, &minor, &patch)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("catalog: malformed version %q: %w", v, err)
	}
	return major, minor, patch, nil
}

func semverInt(major, minor, patch int) int {
	return major*1_000_000 + minor*1_000 + patch
}

// CheckMinVersion reports whether this build (RuntimeVersion) meets a
// catalog entry's flm_min_version floor.
func CheckMinVersion(flmMinVersion string) error {
	if flmMinVersion == "" {
		return nil
	}
	rMaj, rMin, rPatch, err := parseSemver(RuntimeVersion)
	if err != nil {
		return err
	}
	wMaj, wMin, wPatch, err := parseSemver(flmMinVersion)
	if err != nil {
		return err
	}
	if semverInt(rMaj, rMin, rPatch) < semverInt(wMaj, wMin, wPatch) {
		return fmt.Errorf("catalog: this build (%s) is older than the model's required flm_min_version %s", RuntimeVersion, flmMinVersion)
	}
	return nil
}
