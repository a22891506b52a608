// Package converter turns Office documents into PDF via headless
// LibreOffice so the rest of the pipeline only ever sees PDFs.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/fault"
)

const defaultTimeout = 180 * time.Second

// Converter shells out to LibreOffice. Each conversion runs under an
// isolated user profile so concurrent runs do not fight over the
// profile lock; the semaphore bounds how many run at once.
type Converter struct {
	binary  string
	timeout time.Duration
	sem     chan struct{}
}

func New(maxConcurrent int) *Converter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Converter{
		binary:  "libreoffice",
		timeout: defaultTimeout,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Available probes for the LibreOffice binary and logs its version.
func (c *Converter) Available() bool {
	out, err := exec.Command(c.binary, "--version").Output()
	if err != nil {
		log.Warn().Err(err).Msg("libreoffice not found, office conversion disabled")
		return false
	}
	log.Info().Str("version", strings.TrimSpace(string(out))).Msg("libreoffice found")
	return true
}

// ToPDF converts the document at path and returns the path of the
// produced PDF, which lands next to the input.
func (c *Converter) ToPDF(ctx context.Context, path string) (string, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	started := time.Now()

	outDir := filepath.Dir(path)
	profileDir := filepath.Join(os.TempDir(), "lo_profile_"+uuid.New().String())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary,
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fault.New(fault.KindDecodeFailed, "convert", "conversion timed out after %s", c.timeout)
		}
		if looksProtected(string(out)) {
			return "", fault.New(fault.KindInputInvalid, "convert", "document is password protected")
		}
		return "", fault.New(fault.KindDecodeFailed, "convert", "libreoffice: %v: %s", err, strings.TrimSpace(string(out)))
	}

	base := filepath.Base(path)
	produced := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(produced); err != nil {
		return "", fault.New(fault.KindDecodeFailed, "convert", "no output produced: %v", err)
	}

	log.Info().Str("input", base).Dur("took", time.Since(started)).Msg("converted office document to pdf")
	return produced, nil
}

// looksProtected matches the messages LibreOffice prints for documents
// it cannot open without a password.
func looksProtected(output string) bool {
	s := strings.ToLower(output)
	return strings.Contains(s, "password") ||
		strings.Contains(s, "encrypted") ||
		strings.Contains(s, "protected")
}
