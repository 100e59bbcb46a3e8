// Package corpus scans stored batch payload files and rolls up detection
// verdicts across a capture corpus.
package corpus

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cadence/internal/analyzer"
	"cadence/internal/correlation"
)

// FileResult summarizes the analysis of one payload file.
type FileResult struct {
	Path    string             `json:"path"`
	Batches int                `json:"batches"`
	Clean   int                `json:"clean"`
	Bot     int                `json:"bot"`
	Human   int                `json:"human"`
	Failed  int                `json:"failed"`
	Status  string             `json:"status"` // clean, suspect, hostile
	Reports []*analyzer.Report `json:"reports,omitempty"`
	Errors  []string           `json:"errors,omitempty"`
}

// Rollup totals verdicts across a whole scan.
type Rollup struct {
	Files   int            `json:"files"`
	Batches int            `json:"batches"`
	Clean   int            `json:"clean"`
	Bot     int            `json:"bot"`
	Human   int            `json:"human"`
	Failed  int            `json:"failed"`
	ByLabel map[string]int `json:"by_label,omitempty"` // bot pattern name -> hits

	// Visitors counts distinct session identities across the scan.
	// SharedSessions lists the identities seen in more than one file; one
	// visitor spanning many stored payloads is a replay or farm signal.
	Visitors       int      `json:"visitors,omitempty"`
	SharedSessions []string `json:"shared_sessions,omitempty"`
}

// Scanner runs an analyzer over stored payload files.
type Scanner struct {
	analyzer *analyzer.Analyzer
}

// NewScanner creates a corpus scanner backed by one analyzer.
func NewScanner(a *analyzer.Analyzer) *Scanner {
	return &Scanner{analyzer: a}
}

// ScanDir analyzes every regular file directly under dir, skipping dotfiles
// and subdirectories. A file that cannot be read is logged and skipped so
// one bad file does not sink the scan.
func (s *Scanner) ScanDir(dir string) ([]FileResult, Rollup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, Rollup{}, fmt.Errorf("reading corpus dir: %w", err)
	}

	var results []FileResult
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fr, err := s.ScanFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Printf("[corpus] skipping %s: %v", e.Name(), err)
			continue
		}
		results = append(results, fr)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, RollupOf(results), nil
}

// ScanFile analyzes one payload file: one batch payload per non-blank line,
// lines opening with # are comments. Score state is not threaded between
// lines; every batch is judged on its own flow. Lines that fail to parse
// count as failed in the result rather than aborting the file.
func (s *Scanner) ScanFile(path string) (FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileResult{}, err
	}
	defer f.Close()

	fr := FileResult{Path: path}
	scanner := bufio.NewScanner(f)
	// Captured payload lines routinely outgrow the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fr.Batches++
		r, err := s.analyzer.AnalyzeBatch(line, "")
		if err != nil {
			fr.Failed++
			fr.Errors = append(fr.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		fr.Reports = append(fr.Reports, r)
		switch r.Verdict {
		case analyzer.VerdictBot:
			fr.Bot++
		case analyzer.VerdictHuman:
			fr.Human++
		default:
			fr.Clean++
		}
	}
	if err := scanner.Err(); err != nil {
		return FileResult{}, fmt.Errorf("reading %s: %w", path, err)
	}

	fr.Status = statusOf(fr)
	return fr, nil
}

// statusOf grades one file from its verdict counts.
func statusOf(fr FileResult) string {
	switch {
	case fr.Bot > 0 && fr.Bot*2 >= fr.Batches:
		return "hostile"
	case fr.Bot > 0 || fr.Failed > 0:
		return "suspect"
	default:
		return "clean"
	}
}

// RollupOf totals verdicts across file results and correlates visitor
// identities between files.
func RollupOf(results []FileResult) Rollup {
	ru := Rollup{Files: len(results), ByLabel: make(map[string]int)}
	sessionFiles := make(map[string]map[string]struct{})
	for _, fr := range results {
		ru.Batches += fr.Batches
		ru.Clean += fr.Clean
		ru.Bot += fr.Bot
		ru.Human += fr.Human
		ru.Failed += fr.Failed
		for _, r := range fr.Reports {
			if r.Verdict == analyzer.VerdictBot {
				name, _, _ := strings.Cut(r.Bot, ":")
				ru.ByLabel[name]++
			}
			for _, key := range correlation.FromScoreValue(r.Score) {
				if key.Type != correlation.SessionKeyType {
					continue
				}
				if sessionFiles[key.Value] == nil {
					sessionFiles[key.Value] = make(map[string]struct{})
				}
				sessionFiles[key.Value][fr.Path] = struct{}{}
			}
		}
	}
	if len(ru.ByLabel) == 0 {
		ru.ByLabel = nil
	}

	ru.Visitors = len(sessionFiles)
	for value, files := range sessionFiles {
		if len(files) > 1 {
			ru.SharedSessions = append(ru.SharedSessions, value)
		}
	}
	sort.Strings(ru.SharedSessions)
	return ru
}

// FilterByVerdict keeps the reports carrying one verdict.
func FilterByVerdict(reports []*analyzer.Report, v analyzer.Verdict) []*analyzer.Report {
	var out []*analyzer.Report
	for _, r := range reports {
		if r.Verdict == v {
			out = append(out, r)
		}
	}
	return out
}
