package payload

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
)

// ErrInvalidCatalog is returned by NewCatalog for an unusable size set.
var ErrInvalidCatalog = errors.New("invalid size catalog")

// Catalog is the allow-list of download sizes, in MiB. It never changes
// after NewCatalog returns.
type Catalog struct {
	supported []int64
	def       int64
	max       int64
}

// NewCatalog validates and returns a Catalog. supported is copied, sorted
// and deduplicated; every value must be positive and not above maxSize, and def
// must be one of them.
func NewCatalog(supported []int64, def, maxSize int64) (*Catalog, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("%w: no supported sizes", ErrInvalidCatalog)
	}
	sizes := make([]int64, 0, len(supported))
	seen := map[int64]bool{}
	for _, s := range supported {
		if s <= 0 || s > maxSize {
			return nil, fmt.Errorf("%w: size %d outside (0, %d]", ErrInvalidCatalog, s, maxSize)
		}
		if !seen[s] {
			seen[s] = true
			sizes = append(sizes, s)
		}
	}
	if !seen[def] {
		return nil, fmt.Errorf("%w: default size %d is not supported", ErrInvalidCatalog, def)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return &Catalog{supported: sizes, def: def, max: maxSize}, nil
}

// ParseSizes parses a list of MiB values, such as the ones collected by a
// flagx.StringArray. Blank values are skipped.
func ParseSizes(values []string) ([]int64, error) {
	var sizes []int64
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// Supported returns a copy of the supported sizes in ascending order.
func (c *Catalog) Supported() []int64 {
	return append([]int64(nil), c.supported...)
}

// Default returns the default size in MiB.
func (c *Catalog) Default() int64 {
	return c.def
}

// Resolve maps the raw value of the size query parameter (MiB, decimals
// allowed) to a payload length in bytes. It never fails:
//
//   - an empty or unparseable value selects the default size;
//   - a value <= 0 selects an empty payload;
//   - anything else selects the nearest supported size, preferring the
//     larger one on ties.
func (c *Catalog) Resolve(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c.def * spec.MiB
	}
	v, err := strconv.ParseFloat(raw, 64)
	if errors.Is(err, strconv.ErrRange) {
		// Overflow yields ±Inf, which still says which end was asked for.
		err = nil
	}
	if err != nil || math.IsNaN(v) {
		return c.def * spec.MiB
	}
	if v <= 0 {
		return 0
	}
	return c.Nearest(v) * spec.MiB
}

// Nearest returns the supported size closest to mib.
func (c *Catalog) Nearest(mib float64) int64 {
	best := c.supported[0]
	bestDistance := math.Inf(1)
	for _, s := range c.supported {
		// Sizes are ascending, so <= makes ties go to the larger size.
		if d := math.Abs(mib - float64(s)); d <= bestDistance {
			best, bestDistance = s, d
		}
	}
	if best > c.max {
		return c.max
	}
	return best
}
