package imageio

import "errors"

var (
	ErrOpen       = errors.New("imageio: open image")
	ErrRead       = errors.New("imageio: read image")
	ErrWrite      = errors.New("imageio: write image")
	ErrShortRead  = errors.New("imageio: short read")
	ErrShortWrite = errors.New("imageio: short write")
	ErrOutOfRange = errors.New("imageio: offset out of range")
	ErrFlush      = errors.New("imageio: flush image")
	ErrClose      = errors.New("imageio: close image")
)
