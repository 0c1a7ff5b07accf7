package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/idscan/internal/pdf"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

// PDFSink bundles the cropped sides of a session into <session>.pdf, one
// page per side, optionally password protected.
type PDFSink struct {
	dir      string
	password string
}

// NewPDFSink returns a sink writing PDFs into dir. An empty password leaves
// the PDF unencrypted.
func NewPDFSink(dir, password string) *PDFSink {
	return &PDFSink{dir: dir, password: password}
}

// Name implements Sink.
func (p *PDFSink) Name() string { return "pdf" }

// Path returns the PDF path for sessionID.
func (p *PDFSink) Path(sessionID string) string {
	return filepath.Join(p.dir, sessionID+".pdf")
}

// Export implements Sink.
func (p *PDFSink) Export(ctx context.Context, sessionID string, images []scan.CapturedImage) error {
	tmp, err := os.MkdirTemp("", "idscan-pdf-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	crops, err := NewDirSink(tmp).write(ctx, sessionID, images, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	out := p.Path(sessionID)
	if err := pdf.WriteImages(crops, out); err != nil {
		return err
	}
	creds := pdf.PasswordCredentials{UserPassword: p.password}
	if p.password != "" {
		if err := pdf.Encrypt(out, creds); err != nil {
			return err
		}
	}
	if err := pdf.Verify(out, creds, len(crops)); err != nil {
		return fmt.Errorf("exported PDF %s is unreadable: %w", out, err)
	}
	return nil
}
