package crater

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// DefaultOffsetCachePath is the default path for computed catalogue offsets
const DefaultOffsetCachePath = ".offset-cache.json"

// OffsetEntry records the offset found between two catalogues.
type OffsetEntry struct {
	Truth         string  `json:"truth"`
	Candidate     string  `json:"candidate"`
	Offset        Offset  `json:"offset"`
	Objective     float64 `json:"objective"`
	UsedTruth     int     `json:"usedTruth"`
	UsedCandidate int     `json:"usedCandidate"`
	ComputedAt    int64   `json:"computedAt"`
}

// OffsetCache stores offsets keyed by catalogue pair.
type OffsetCache struct {
	Entries     map[string]OffsetEntry `json:"entries"`
	LastUpdated int64                  `json:"lastUpdated"`
}

func offsetKey(truth, candidate string) string {
	return filepath.Base(truth) + "|" + filepath.Base(candidate)
}

// LoadOffsetCache loads the offset cache. A missing file yields nil, nil.
func LoadOffsetCache(path string) (*OffsetCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading offset cache: %w", err)
	}

	var cache OffsetCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing offset cache: %w", err)
	}
	return &cache, nil
}

// SaveOffsetCache writes the offset cache as indented JSON
func SaveOffsetCache(path string, cache *OffsetCache) error {
	cache.LastUpdated = time.Now().Unix()
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling offset cache: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("writing offset cache: %w", err)
	}
	return nil
}

// Get returns the cached offset of candidate relative to truth
func (c *OffsetCache) Get(truth, candidate string) (OffsetEntry, bool) {
	if c == nil || c.Entries == nil {
		return OffsetEntry{}, false
	}
	e, ok := c.Entries[offsetKey(truth, candidate)]
	return e, ok
}

// Put records an offset result
func (c *OffsetCache) Put(truth, candidate string, res OffsetResult) {
	if c.Entries == nil {
		c.Entries = make(map[string]OffsetEntry)
	}
	c.Entries[offsetKey(truth, candidate)] = OffsetEntry{
		Truth:         filepath.Base(truth),
		Candidate:     filepath.Base(candidate),
		Offset:        res.Offset,
		Objective:     res.Objective,
		UsedTruth:     res.UsedTruth,
		UsedCandidate: res.UsedCandidate,
		ComputedAt:    time.Now().Unix(),
	}
}

// AlignCatalogueFiles finds the offset of the candidate catalogue relative to
// the truth catalogue and writes the candidate with the offset removed to
// outPath (OffsetCataloguePath(candidatePath) when empty). A cached offset
// for the pair is reused; fresh results are added to the cache when one is
// given.
func AlignCatalogueFiles(truthPath, candidatePath, outPath string, cfg AlignConfig, cache *OffsetCache) (OffsetResult, error) {
	truth, err := ReadCatalogueFile(truthPath)
	if err != nil {
		return OffsetResult{}, err
	}
	candidate, err := ReadCatalogueFile(candidatePath)
	if err != nil {
		return OffsetResult{}, err
	}

	var res OffsetResult
	if e, ok := cache.Get(truthPath, candidatePath); ok {
		log.Printf("Using cached offset for %s against %s", e.Candidate, e.Truth)
		res = OffsetResult{Offset: e.Offset, Objective: e.Objective, UsedTruth: e.UsedTruth, UsedCandidate: e.UsedCandidate}
	} else {
		res, err = FindOffset(truth.Points(), candidate.Points(), cfg)
		if err != nil {
			return OffsetResult{}, fmt.Errorf("finding offset: %w", err)
		}
		if cache != nil && len(res.Warnings) == 0 {
			cache.Put(truthPath, candidatePath, res)
		}
	}

	if outPath == "" {
		outPath = OffsetCataloguePath(candidatePath)
	}
	var buf bytes.Buffer
	if err := candidate.Translated(res.Offset.Negate()).Write(&buf); err != nil {
		return OffsetResult{}, fmt.Errorf("encoding aligned catalogue: %w", err)
	}
	if err := writeFile(outPath, buf.Bytes()); err != nil {
		return OffsetResult{}, fmt.Errorf("writing aligned catalogue: %w", err)
	}
	return res, nil
}
