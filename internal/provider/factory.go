package provider

import (
	"fmt"

	"qcert/internal/config"
)

// ExtractorFactory is a function that creates a FieldExtractor from an
// extractor config.
type ExtractorFactory func(cfg *config.ExtractorConfig) (FieldExtractor, error)

// OCRFactory is a function that creates an OCRClient from an OCR config.
type OCRFactory func(cfg *config.OCRConfig) (OCRClient, error)

// registries of provider factories, populated by init() in each provider
// package.
var (
	extractors = map[string]ExtractorFactory{}
	ocrClients = map[string]OCRFactory{}
)

// RegisterExtractor registers a field-extractor factory by name.
func RegisterExtractor(name string, factory ExtractorFactory) {
	extractors[name] = factory
}

// RegisterOCR registers an OCR client factory by name.
func RegisterOCR(name string, factory OCRFactory) {
	ocrClients[name] = factory
}

// NewExtractor creates a FieldExtractor using the registered factory.
func NewExtractor(cfg *config.ExtractorConfig) (FieldExtractor, error) {
	factory, ok := extractors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown extractor provider: %s", cfg.Provider)
	}
	return factory(cfg)
}

// NewOCR creates an OCRClient using the registered factory.
func NewOCR(cfg *config.OCRConfig) (OCRClient, error) {
	factory, ok := ocrClients[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown OCR provider: %s", cfg.Provider)
	}
	return factory(cfg)
}
