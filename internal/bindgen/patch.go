package bindgen

import (
	"errors"
	"fmt"
	"os"

	"github.com/sergi/go-diff/diffmatchpatch"
)

var ErrPatch = errors.New("patch does not apply")

// applyPatch applies a diff-match-patch text to the file at path. Every hunk
// has to apply; a half-patched bindings file is not written.
func applyPatch(path, patchText string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPatch, err)
	}
	if len(patches) == 0 {
		return nil
	}

	patched, results := dmp.PatchApply(patches, string(data))
	for i, ok := range results {
		if !ok {
			return fmt.Errorf("%w: hunk %d of %d failed", ErrPatch, i+1, len(results))
		}
	}

	return os.WriteFile(path, []byte(patched), 0o644)
}

// applyPatchFiles applies each patch file to target in order
func applyPatchFiles(target string, patchFiles []string) error {
	for _, pf := range patchFiles {
		text, err := os.ReadFile(pf)
		if err != nil {
			return err
		}
		if err := applyPatch(target, string(text)); err != nil {
			return fmt.Errorf("%s: %w", pf, err)
		}
	}
	return nil
}
