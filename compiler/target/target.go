package target

import (
	"os"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sys/cpu"
	"tlog.app/go/errors"
)

type (
	Feature uint8

	Features uint8

	// Word is the machine word width in bits.
	Word int

	Config struct {
		Word     Word     `toml:"word"`
		Features Features `toml:"features"`
	}
)

const (
	SUDIV Feature = iota // sdiv and udiv
	MLS                  // multiply and subtract
	ARMv7                // ubfx, bfc and friends

	numFeatures
)

const (
	Word32 Word = 32
	Word64 Word = 64
)

var featureNames = [numFeatures]string{
	SUDIV: "sudiv",
	MLS:   "mls",
	ARMv7: "armv7",
}

func Default() Config {
	return Config{Word: Word32}
}

func NewFeatures(fs ...Feature) (s Features) {
	for _, f := range fs {
		s |= 1 << f
	}

	return s
}

func (s Features) Has(f Feature) bool { return s&(1<<f) != 0 }

func (s Features) With(fs ...Feature) Features { return s | NewFeatures(fs...) }

func (f Feature) String() string {
	if f < numFeatures {
		return featureNames[f]
	}

	return "unknown"
}

func (s Features) String() string {
	var b strings.Builder

	for f := Feature(0); f < numFeatures; f++ {
		if !s.Has(f) {
			continue
		}

		if b.Len() != 0 {
			b.WriteByte(',')
		}

		b.WriteString(f.String())
	}

	return b.String()
}

// ParseFeatures parses a comma separated list of feature names.
func ParseFeatures(s string) (r Features, err error) {
	for _, n := range strings.Split(s, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}

		f := Feature(0)
		for f < numFeatures && featureNames[f] != n {
			f++
		}

		if f == numFeatures {
			return 0, errors.New("unknown feature: %q", n)
		}

		r |= 1 << f
	}

	return r, nil
}

func (s Features) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Features) UnmarshalText(b []byte) (err error) {
	*s, err = ParseFeatures(string(b))
	return err
}

func (w Word) PointerSize() int { return int(w) / 8 }

func (w Word) Valid() bool { return w == Word32 || w == Word64 }

func (c Config) Validate() error {
	if !c.Word.Valid() {
		return errors.New("word width must be 32 or 64: %d", c.Word)
	}

	return nil
}

// LoadConfig reads a TOML config file on top of Default.
func LoadConfig(name string) (c Config, err error) {
	c = Default()

	f, err := os.Open(name)
	if err != nil {
		return c, errors.Wrap(err, "open")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close")
		}
	}()

	d := toml.NewDecoder(f)
	d.DisallowUnknownFields()

	err = d.Decode(&c)
	if err != nil {
		return c, errors.Wrap(err, "decode %v", name)
	}

	err = c.Validate()
	if err != nil {
		return c, errors.Wrap(err, "%v", name)
	}

	return c, nil
}

// Host describes the machine we are running on.
// Non-ARM hosts get the baseline: no optional features.
func Host() Config {
	c := Default()

	if runtime.GOARCH != "arm" {
		return c
	}

	if cpu.ARM.HasIDIVA {
		c.Features |= NewFeatures(SUDIV)
	}

	if cpu.ARM.HasVFPv3 {
		c.Features |= NewFeatures(ARMv7, MLS)
	}

	return c
}
