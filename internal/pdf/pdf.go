// Package pdf bundles captured document images into PDF files.
package pdf

import (
	"errors"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// WriteImages creates outFile with one page per image, in order. An
// existing file is replaced.
func WriteImages(imagePaths []string, outFile string) error {
	if len(imagePaths) == 0 {
		return errors.New("no images to write")
	}
	// ImportImagesFile appends to an existing file.
	if err := os.Remove(outFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace %s: %w", outFile, err)
	}
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile(imagePaths, outFile, imp, nil); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}

// PageCount returns the number of pages in an unencrypted filename.
func PageCount(filename string) (int, error) {
	return pageCount(filename, PasswordCredentials{})
}

func pageCount(filename string, creds PasswordCredentials) (int, error) {
	f, err := os.Open(filename) //nolint:gosec // G304: export paths are built by the sink
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() { _ = f.Close() }()

	conf := model.NewDefaultConfiguration()
	conf.UserPW = creds.UserPassword
	conf.OwnerPW = creds.OwnerPassword
	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}
