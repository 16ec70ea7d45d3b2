package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// RawFolderLayout is the time layout of an init time folder in the raw store.
	RawFolderLayout = "2006/01/02/1504"
	// ZarrNameLayout is the time layout of a per-init-time zarr store name.
	ZarrNameLayout = "200601021504"

	// LatestZarrName is the base name of the copy of the newest converted run.
	LatestZarrName = "latest"
)

// RawFolder is the raw store folder holding the files of one init time.
func RawFolder(rawDir string, it time.Time) string {
	return path.Join(rawDir, it.UTC().Format(RawFolderLayout))
}

// RawPath is the raw store location of one downloaded file.
func RawPath(rawDir string, fi FileInfo) string {
	return path.Join(RawFolder(rawDir, fi.InitTime()), fi.Filename())
}

// ParseRawFolder extracts the init time from a raw store folder path. Paths
// that do not end in a YYYY/MM/DD/HHMM suffix are rejected.
func ParseRawFolder(p string) (time.Time, error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 4 {
		return time.Time{}, fmt.Errorf("raw folder %q: too few path segments", p)
	}
	suffix := strings.Join(parts[len(parts)-4:], "/")
	it, err := time.Parse(RawFolderLayout, suffix)
	if err != nil {
		return time.Time{}, fmt.Errorf("raw folder %q: %w", p, err)
	}
	return it.UTC(), nil
}

// ZarrPath is the location of the store for one init time.
func ZarrPath(zarrDir string, it time.Time, zip bool) string {
	return path.Join(zarrDir, it.UTC().Format(ZarrNameLayout)+zarrExt(zip))
}

// LatestZarrPath is the location of the copy of the newest converted init time.
func LatestZarrPath(zarrDir string, zip bool) string {
	return path.Join(zarrDir, LatestZarrName+zarrExt(zip))
}

// ConsolidatedZarrPath is the monthly store init times are appended to.
func ConsolidatedZarrPath(zarrDir, source string, it time.Time) string {
	return path.Join(zarrDir, fmt.Sprintf("%s-%s.zarr", source, it.UTC().Format("200601")))
}

func zarrExt(zip bool) string {
	if zip {
		return ".zarr.zip"
	}
	return ".zarr"
}
