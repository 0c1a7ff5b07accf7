package pdf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PasswordCredentials contains the passwords for a PDF file.
type PasswordCredentials struct {
	UserPassword  string `json:"user_password,omitempty"`
	OwnerPassword string `json:"owner_password,omitempty"`
}

// Encrypt protects filename in place with AES-256. The owner password
// defaults to the user password.
func Encrypt(filename string, creds PasswordCredentials) error {
	if creds.UserPassword == "" {
		return errors.New("a user password is required")
	}
	owner := creds.OwnerPassword
	if owner == "" {
		owner = creds.UserPassword
	}
	conf := model.NewAESConfiguration(creds.UserPassword, owner, 256)

	tmp := filename + ".enc"
	if err := api.EncryptFile(filename, tmp, conf); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encrypt PDF: %w", err)
	}
	return os.Rename(tmp, filename)
}

// IsEncrypted checks if a PDF file is password-protected.
func IsEncrypted(filename string) (bool, error) {
	// Counting pages fails without the password.
	if _, err := api.PageCountFile(filename); err != nil {
		if IsPasswordError(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to check PDF encryption status: %w", err)
	}
	return false, nil
}

// Verify checks that filename opens with creds and holds pages pages. The
// file must be encrypted exactly when creds carries a user password.
func Verify(filename string, creds PasswordCredentials, pages int) error {
	encrypted, err := IsEncrypted(filename)
	if err != nil {
		return err
	}
	if protect := creds.UserPassword != ""; encrypted != protect {
		return fmt.Errorf("PDF encryption mismatch: encrypted=%t, password set=%t", encrypted, protect)
	}
	n, err := pageCount(filename, creds)
	if err != nil {
		if IsPasswordError(err) {
			return fmt.Errorf("invalid credentials: %w", err)
		}
		return err
	}
	if n != pages {
		return fmt.Errorf("PDF has %d pages, expected %d", n, pages)
	}
	return nil
}

// IsPasswordError checks if an error is related to password/encryption issues.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, keyword := range []string{"password", "encrypted", "decrypt", "authentication", "invalid credentials"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}
