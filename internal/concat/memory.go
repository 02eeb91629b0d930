package concat

import (
	"context"
	"fmt"
	"os"
)

type memoryConcatenator struct{}

// NewMemoryConcatenator joins the listed files byte-for-byte in manifest order.
// It honours the same manifest contract as the exec variant.
func NewMemoryConcatenator() Concatenator {
	return &memoryConcatenator{}
}

func (m *memoryConcatenator) Concatenate(ctx context.Context, manifestPath, outputPath string) error {
	entries, err := ReadManifest(manifestPath)
	if err != nil {
		return failed(err, "")
	}
	var merged []byte
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return failed(err, "")
		}
		data, err := os.ReadFile(entry)
		if err != nil {
			return failed(fmt.Errorf("read %s: %w", entry, err), "")
		}
		merged = append(merged, data...)
	}
	if err := os.WriteFile(outputPath, merged, manifestPermissions); err != nil {
		return failed(fmt.Errorf("write output: %w", err), "")
	}
	return nil
}
