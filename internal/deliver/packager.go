package deliver

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"qcert/internal/domain"
	"qcert/internal/fsio"
)

const (
	// Dir is the deliverables directory inside a job directory.
	Dir = "deliverables"
	// ManifestName is the download manifest file.
	ManifestName = "manifest.json"
	// BundleName is the on-demand zip of all deliverables.
	BundleName = "deliverables.zip"
)

// Manifest is the download manifest written next to the artifacts.
type Manifest struct {
	JobID       string                    `json:"job_id"`
	RunID       string                    `json:"run_id"`
	GeneratedAt string                    `json:"generated_at"`
	Entries     []domain.DeliverableEntry `json:"entries"`
}

// WriteManifest scans the deliverables directory and publishes the manifest
// by atomic replace. The manifest and bundle are excluded from their own
// listing.
func WriteManifest(jobDir, jobID, runID, generatedAt string) (*Manifest, error) {
	dir := filepath.Join(jobDir, Dir)
	entries, err := listEntries(dir)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		JobID:       jobID,
		RunID:       runID,
		GeneratedAt: generatedAt,
		Entries:     entries,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := fsio.WriteAtomic(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadManifest loads the published manifest.
func ReadManifest(jobDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, Dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrDeliverableNotFound
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Open resolves a deliverable by name for download. Names with path
// separators are refused so a request cannot escape the deliverables
// directory.
func Open(jobDir, name string) (*os.File, domain.DeliverableEntry, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, domain.DeliverableEntry{}, domain.ErrDeliverableNotFound
	}
	path := filepath.Join(jobDir, Dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.DeliverableEntry{}, domain.ErrDeliverableNotFound
		}
		return nil, domain.DeliverableEntry{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, domain.DeliverableEntry{}, err
	}
	entry := domain.DeliverableEntry{
		Name:         name,
		Size:         st.Size(),
		RelativePath: filepath.Join(Dir, name),
		ContentType:  domain.ContentTypeFor(filepath.Ext(name)),
	}
	return f, entry, nil
}

// WriteBundle zips every deliverable (manifest included, previous bundles
// excluded) into w. Built on demand only; nothing is cached on disk.
func WriteBundle(jobDir string, w io.Writer) error {
	dir := filepath.Join(jobDir, Dir)
	entries, err := listEntries(dir)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	names := append([]domain.DeliverableEntry{}, entries...)
	if _, err := os.Stat(filepath.Join(dir, ManifestName)); err == nil {
		names = append(names, domain.DeliverableEntry{Name: ManifestName})
	}
	for _, e := range names {
		if err := addToZip(zw, filepath.Join(dir, e.Name), e.Name); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(st)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func listEntries(dir string) ([]domain.DeliverableEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrDeliverableNotFound
		}
		return nil, err
	}

	var entries []domain.DeliverableEntry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if name == ManifestName || name == BundleName || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.DeliverableEntry{
			Name:         name,
			Size:         info.Size(),
			RelativePath: filepath.Join(Dir, name),
			ContentType:  domain.ContentTypeFor(filepath.Ext(name)),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
