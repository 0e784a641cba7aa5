package wave

import (
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// Info summarises a recording as seen by a general-purpose WAV decoder.
type Info struct {
	Name       string        `json:"name" yaml:"name"`
	Format     *audio.Format `json:"format" yaml:"format"`
	BitDepth   int           `json:"bit_depth" yaml:"bit_depth"`
	DataLength int64         `json:"data_length" yaml:"data_length"`
	Pages      int           `json:"pages" yaml:"pages"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Inspect decodes the preamble of name with go-audio/wav, which is stricter
// than Open and catches files other tools would reject.
func Inspect(fs afero.Fs, name string, pageSize int) (*Info, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHeader, name)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate sample data in %s: %w", name, err)
	}

	info := &Info{
		Name:       name,
		Format:     dec.Format(),
		BitDepth:   int(dec.BitDepth),
		DataLength: dec.PCMLen(),
	}
	if pageSize > 0 {
		info.Pages = int((info.DataLength + int64(pageSize) - 1) / int64(pageSize))
	}
	if bps := int64(dec.AvgBytesPerSec); bps > 0 {
		info.Duration = time.Duration(info.DataLength) * time.Second / time.Duration(bps)
	}
	return info, nil
}
