package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"qcert/internal/config"
	"qcert/internal/contract"
	"qcert/internal/domain"
	"qcert/internal/handler"
	"qcert/internal/intake"
	"qcert/internal/photos"
	"qcert/internal/pipeline"
	"qcert/internal/provider"
	"qcert/internal/router"
	"qcert/internal/runlog"
	"qcert/internal/service"
	"qcert/internal/ssot"

	// Provider registration.
	_ "qcert/internal/provider/claude"
	_ "qcert/internal/provider/gemini"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// ocrProbe adapts the OCR provider to the photo engine's label hook.
type ocrProbe struct {
	client provider.OCRClient
}

func (p ocrProbe) Probe(ctx context.Context, imagePath string) (string, error) {
	out, err := p.client.Recognize(ctx, imagePath)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	c, err := contract.Load(cfg.Paths.ContractFile)
	if err != nil {
		return fmt.Errorf("failed to load field contract: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.JobsRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create jobs root: %w", err)
	}

	// Stores
	store := ssot.NewStore(cfg.Paths.JobsRoot, cfg.Pipeline.LockRetryInterval, cfg.Pipeline.LockMaxRetries)
	sessions := intake.NewStore(domain.RawStorageLevel(cfg.Intake.RawStorageLevel), cfg.Intake.MaxRawBytes)

	// Providers. Both are optional; the pipeline and intake surface degrade
	// to regex-only extraction and unverified label matching.
	var extractor provider.FieldExtractor
	if cfg.Extractor.APIKey != "" {
		extractor, err = provider.NewExtractor(&cfg.Extractor)
		if err != nil {
			return fmt.Errorf("failed to initialize field extractor: %w", err)
		}
	} else {
		log.Printf("main: extractor API key not set, LLM extraction disabled")
	}

	var probe photos.OCRProbe
	if cfg.OCR.APIKey != "" {
		ocrClient, err := provider.NewOCR(&cfg.OCR)
		if err != nil {
			return fmt.Errorf("failed to initialize OCR client: %w", err)
		}
		probe = ocrProbe{client: ocrClient}
	} else {
		log.Printf("main: OCR API key not set, label verification disabled")
	}

	photoEngine := photos.NewEngine(c, probe)

	// Pipeline and services
	p := pipeline.New(c, store, photoEngine, cfg.Paths.TemplatesDir)
	intakeSvc := service.NewIntakeService(c, store, sessions, photoEngine, extractor)

	// Handlers
	intakeH := handler.NewIntakeHandler(intakeSvc)
	generateH := handler.NewGenerateHandler(p, store, runlog.NewWriter())
	healthH := handler.NewHealthHandler(cfg.Paths.JobsRoot, cfg.Paths.TemplatesDir)

	// Setup router
	r := router.Setup(cfg.CORS.AllowedOrigins, intakeH, generateH, healthH)

	log.Printf("Server starting on %s", cfg.Server.Port)
	if err := r.Run(cfg.Server.Port); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
