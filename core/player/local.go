package player

import (
	"fmt"
	"os"

	"echoes/core/element"
)

// LocalPlayer plays a file from disk.
type LocalPlayer struct {
	*base
	path string
}

func openLocal(path string, desc element.Descriptor, opts options) (*LocalPlayer, error) {
	src, err := openFile(path)
	if err != nil {
		return nil, err
	}
	return &LocalPlayer{base: newBase(desc, src, opts, false), path: path}, nil
}

func openFile(path string) (*source, error) {
	if path == "" {
		return nil, ErrNoLocalCopy
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open local media: %w", err)
	}
	return decode(f, element.CodecOf(path))
}

// Path is the file the player reads.
func (p *LocalPlayer) Path() string { return p.path }
