package render

import (
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"qcert/internal/contract"
	"qcert/internal/domain"
)

const (
	photoPlaceholderPrefix = "photo_"

	// Volatile placeholders. Golden comparisons normalize these away.
	placeholderGeneratedAt = "generated_at"
	placeholderArtifactID  = "artifact_id"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// blankImage is a 1x1 transparent GIF used when a template declares the
// "blank" fallback for an unfilled image anchor.
var blankImage = "data:image/gif;base64," + base64.StdEncoding.EncodeToString([]byte(
	"GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\x00\x00\x00!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;"))

// DocRenderer materializes the report document by placeholder substitution
// over an HTML template.
type DocRenderer struct {
	contract *contract.Contract
	manifest *Manifest
	tmplPath string
}

// NewDocRenderer loads the document template declared by the manifest.
func NewDocRenderer(c *contract.Contract, templateDir string, m *Manifest) (*DocRenderer, error) {
	name := m.DocTemplate
	if name == "" {
		name = "report.html"
	}
	tmplPath := filepath.Join(templateDir, name)
	if _, err := os.Stat(tmplPath); err != nil {
		return nil, domain.NewReject(domain.CodeTemplateNotFound, "document template not found").
			With("path", tmplPath)
	}
	return &DocRenderer{contract: c, manifest: m, tmplPath: tmplPath}, nil
}

// DocInput is everything one document render consumes. Photos maps slot keys
// to derived file paths; Overridden marks slots whose absence was accepted by
// an override.
type DocInput struct {
	Fields          map[string]string
	MeasurementRows []domain.MeasurementRow
	Photos          map[string]string
	Overridden      map[string]bool
	RunID           string
	Now             time.Time
}

// Render substitutes every placeholder and writes nothing: the caller owns
// publication. Unknown placeholder names reject; declared fields absent from
// the packet resolve to empty with a warning.
func (r *DocRenderer) Render(input DocInput) (string, []domain.Warning, error) {
	raw, err := os.ReadFile(r.tmplPath)
	if err != nil {
		return "", nil, domain.NewReject(domain.CodeRenderFailed, "reading document template").
			With("path", r.tmplPath).With("error", err.Error())
	}

	var warnings []domain.Warning
	var rejectErr error

	out := placeholderPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		if rejectErr != nil {
			return match
		}
		name := placeholderPattern.FindStringSubmatch(match)[1]

		switch name {
		case placeholderGeneratedAt:
			return input.Now.UTC().Format(time.RFC3339)
		case placeholderArtifactID:
			return uuid.NewString()
		}

		if strings.HasPrefix(name, photoPlaceholderPrefix) {
			slotKey := strings.TrimPrefix(name, photoPlaceholderPrefix)
			val, w, err := r.resolvePhoto(slotKey, input)
			if err != nil {
				rejectErr = err
				return match
			}
			if w != nil {
				warnings = append(warnings, *w)
			}
			return val
		}

		if _, ok := r.contract.Field(name); !ok {
			rejectErr = domain.NewReject(domain.CodeTemplateUnknownPlaceholder, "template references an undeclared placeholder").
				With("placeholder", name).With("template", r.tmplPath)
			return match
		}
		val, ok := input.Fields[name]
		if !ok {
			warnings = append(warnings, domain.Warning{
				Code:        domain.WarnPlaceholderUnresolved,
				FieldOrSlot: name,
				Message:     fmt.Sprintf("placeholder %q has no packet value, resolved to empty", name),
			})
			return ""
		}
		return html.EscapeString(val)
	})

	if rejectErr != nil {
		return "", nil, rejectErr
	}
	return out, warnings, nil
}

func (r *DocRenderer) resolvePhoto(slotKey string, input DocInput) (string, *domain.Warning, error) {
	if _, ok := r.contract.Slot(slotKey); !ok {
		return "", nil, domain.NewReject(domain.CodeTemplateUnknownPlaceholder, "template references an undeclared photo slot").
			With("placeholder", photoPlaceholderPrefix+slotKey).With("template", r.tmplPath)
	}

	path, ok := input.Photos[slotKey]
	if !ok || path == "" {
		var fallback string
		if r.manifest.PhotoFallback == FallbackBlank {
			fallback = fmt.Sprintf(`<img class="photo photo-missing" alt=%q src=%q>`, slotKey, blankImage)
		}
		if input.Overridden[slotKey] {
			return fallback, nil, nil
		}
		w := &domain.Warning{
			Code:        domain.WarnPlaceholderUnresolved,
			FieldOrSlot: slotKey,
			Message:     fmt.Sprintf("photo slot %q has no derived file, resolved to template fallback", slotKey),
		}
		return fallback, w, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, domain.NewReject(domain.CodeRenderFailed, "reading derived photo").
			With("slot", slotKey).With("path", path).With("error", err.Error())
	}
	mime := domain.ContentTypeFor(filepath.Ext(path))
	src := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf(`<img class="photo" alt=%q src=%q>`, slotKey, src), nil, nil
}
