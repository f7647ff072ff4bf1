package photos

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qcert/internal/domain"
)

// SaveRaw stores an upload under photos/raw/. Name collisions get _1, _2, …
// suffixes before the extension; originals are never overwritten.
func (e *Engine) SaveRaw(jobDir, filename string, r io.Reader, now time.Time) (domain.UploadDescriptor, error) {
	name := filepath.Base(filename)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if !extAllowed(ext, e.contract.Photos.AllowedExtensions) {
		return domain.UploadDescriptor{}, domain.ErrUnsupportedFileType
	}

	rawDir := filepath.Join(jobDir, RawDir)
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("create raw dir: %w", err)
	}

	stored := name
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(rawDir, stored)); errors.Is(err, os.ErrNotExist) {
			break
		}
		stored = fmt.Sprintf("%s_%d%s", stem, i, filepath.Ext(name))
	}

	dst := filepath.Join(rawDir, stored)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("create raw file: %w", err)
	}
	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(dst)
		return domain.UploadDescriptor{}, fmt.Errorf("store raw file: %w", err)
	}
	if err := f.Close(); err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("close raw file: %w", err)
	}

	return domain.UploadDescriptor{
		OriginalName: name,
		StoredName:   stored,
		Size:         size,
		ContentType:  domain.ContentTypeFor(ext),
		UploadedAt:   now.UTC(),
	}, nil
}

// SlotStatuses is the read-only per-slot mapping view. It runs lock-free
// and tolerates a writer's in-flight publication.
func (e *Engine) SlotStatuses(jobDir string) ([]domain.SlotStatus, error) {
	rawFiles, err := listFiles(filepath.Join(jobDir, RawDir))
	if err != nil {
		return nil, err
	}
	derivedDir := filepath.Join(jobDir, DerivedDir)

	statuses := make([]domain.SlotStatus, 0, len(e.contract.Photos.Slots))
	for i := range e.contract.Photos.Slots {
		slot := &e.contract.Photos.Slots[i]
		st := domain.SlotStatus{
			SlotKey:         slot.Key,
			Required:        slot.Required,
			OverrideAllowed: slot.OverrideAllowed,
		}
		exts := slot.Extensions(e.contract.Photos.AllowedExtensions)
		for _, name := range rawFiles {
			if matchTier(slot, exts, name) != tierNone {
				st.HasRaw = true
				st.RawPath = filepath.Join(RawDir, name)
				break
			}
		}
		if names, err := derivedFiles(derivedDir, slot.Key); err == nil && len(names) > 0 {
			st.HasDerived = true
			st.DerivedPath = filepath.Join(DerivedDir, names[0])
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
