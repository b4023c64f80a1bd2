package oracle

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Case is one corpus entry: an input vector and the reference output
// recorded for it.
type Case struct {
	// ID identifies the case in reports and failing-case diagnostics.
	// Defaults to the source file name when the file leaves it empty.
	ID string `json:"id,omitempty"`

	// Input is the argument vector handed to the unit under test.
	Input []float64 `json:"input"`

	// Expected is the reference output.
	Expected []float64 `json:"expected"`
}

// Corpus is the declared input set an oracle run covers.
type Corpus struct {
	// Pattern is the glob the corpus was resolved from, recorded in
	// oracle reports.
	Pattern string

	// Cases in deterministic (file name, in-file) order.
	Cases []Case
}

// corpusFile is the JSON schema of one corpus file: either a single case
// or a list of cases.
type corpusFile struct {
	Cases []Case `json:"cases"`
}

// Load resolves a doublestar glob under root and reads every matching
// JSON corpus file. An empty result is returned as-is; the caller decides
// whether an empty corpus is an error (the oracle upgrade rule requires
// cases_total > 0, so it always is at commit time).
func Load(root, pattern string) (*Corpus, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("malformed corpus pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus %q: %w", pattern, err)
	}
	sort.Strings(matches)

	corpus := &Corpus{Pattern: pattern}
	for _, match := range matches {
		cases, err := loadFile(root, match)
		if err != nil {
			return nil, err
		}
		corpus.Cases = append(corpus.Cases, cases...)
	}
	return corpus, nil
}

func loadFile(root, name string) ([]Case, error) {
	data, err := os.ReadFile(root + "/" + name)
	if err != nil {
		return nil, fmt.Errorf("read corpus file %s: %w", name, err)
	}

	// A file holds either {"cases": [...]} or a single case object.
	var file corpusFile
	if err := json.Unmarshal(data, &file); err == nil && len(file.Cases) > 0 {
		for i := range file.Cases {
			if file.Cases[i].ID == "" {
				file.Cases[i].ID = fmt.Sprintf("%s#%d", name, i)
			}
		}
		return file.Cases, nil
	}

	var single Case
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse corpus file %s: %w", name, err)
	}
	if single.ID == "" {
		single.ID = name
	}
	return []Case{single}, nil
}
