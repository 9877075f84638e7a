package progress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func DefaultBar(maxBytes int64, desc string) *progressbar.ProgressBar {
	return NewByteBar(ansi.NewAnsiStdout(), maxBytes, desc)
}

// NewByteBar is DefaultBar rendering to writer.
func NewByteBar(writer io.Writer, maxBytes int64, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		maxBytes,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowTotalBytes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(writer, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// MaxLoadSize is the largest file Loader reads into memory.
const MaxLoadSize = math.MaxUint32

var ErrTooLarge = errors.New("file too large to load")

// Loader reads a whole file while drawing a byte bar made by newBar.
func Loader(newBar func(maxBytes int64, desc string) *progressbar.ProgressBar) func(path string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			return nil, err
		}

		if stat.Size() > MaxLoadSize {
			return nil, fmt.Errorf("%s (%d bytes): %w", stat.Name(), stat.Size(), ErrTooLarge)
		}

		bar := newBar(stat.Size(), "loading "+stat.Name())

		buf := bytes.NewBuffer(make([]byte, 0, stat.Size()))
		if _, err := io.Copy(io.MultiWriter(buf, bar), f); err != nil {
			return nil, err
		}

		if err := bar.Finish(); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	}
}
