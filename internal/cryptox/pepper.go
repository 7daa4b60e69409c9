package cryptox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/brightnest/haven/internal/common"
)

const pepperFileName = ".device_pepper"

// LoadOrCreatePepper returns the device pepper stored under dir, creating it
// on first run. The file is mode 0600; losing it makes every profile record
// on this installation unreadable, which is the intended failure mode for a
// store copied to another machine without it.
func LoadOrCreatePepper(dir string) ([]byte, error) {
	path := filepath.Join(dir, pepperFileName)

	pepper, err := os.ReadFile(path)
	if err == nil {
		if len(pepper) != 32 {
			return nil, fmt.Errorf("pepper file %s is corrupt: %w", path, common.ErrConfiguration)
		}
		return pepper, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading pepper: %w", err)
	}

	pepper = common.GenerateRandByteArray(32)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(path, pepper, 0o600); err != nil {
		return nil, fmt.Errorf("writing pepper: %w", err)
	}
	return pepper, nil
}
