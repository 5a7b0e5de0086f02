// Package identity supplies the stable TerminalID stamped on every batch.
// The sync engine treats the id as an opaque string.
package identity

import (
	"fmt"
	"os"
	"strings"

	"github.com/possuite/possync/internal/model"
)

// Provider yields the terminal's stable identity.
type Provider interface {
	TerminalID() (string, error)
}

// Static wraps an id fixed by configuration.
type Static string

func (s Static) TerminalID() (string, error) { return string(s), nil }

// FileProvider keeps the id in a small file next to the terminal database,
// minting one on first run so the id survives re-installs of the software
// but not an explicit re-provisioning (delete the file, reset the cursor).
type FileProvider struct {
	Path string
}

func (p FileProvider) TerminalID() (string, error) {
	data, err := os.ReadFile(p.Path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read terminal id: %w", err)
	}
	id := "term-" + model.NewPublicID()[:12]
	if err := os.WriteFile(p.Path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist terminal id: %w", err)
	}
	return id, nil
}
