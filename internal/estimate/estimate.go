// Package estimate sizes a streamed entity dump without a full scan. The
// exact record count of a multi-gigabyte, possibly compressed dump is
// expensive to compute, so the estimator reads a bounded prefix, counts the
// records it saw, measures how many raw file bytes that prefix consumed, and
// extrapolates against the file's total size. Sampling the *consumed
// compressed* bytes against decoded records yields a locally accurate ratio
// where a fixed compression-ratio guess would not.
//
// The estimate is advisory: it sizes progress indicators and nothing else.
package estimate

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Default sampling caps. Whichever is hit first ends the prefix read.
const (
	DefaultSampleRecords   = 20_000
	DefaultSampleTextBytes = 64_000_000
)

// Dump lines can be large; a Wikidata-style entity easily exceeds the default
// bufio token limit.
const maxLineBytes = 16 * 1024 * 1024

// SizeEstimate is the derived, ephemeral output of a sampling pass.
type SizeEstimate struct {
	// Records is the estimated total record count.
	Records int64
	// Exact reports that the sample reached EOF, making Records a true count.
	Exact bool

	SampledRecords   int64
	SampledTextBytes int64
	SampledRawBytes  int64
	TotalBytes       int64
}

// Estimator samples dump prefixes. The zero value uses the default caps;
// tests lower them to force extrapolation on small fixtures.
type Estimator struct {
	SampleRecords   int64
	SampleTextBytes int64
	// Limit, when positive, clamps the estimate (smoke runs that stop after
	// N records never need a larger progress total).
	Limit int64
}

// Estimate samples the dump at path and extrapolates its total record count.
func (e Estimator) Estimate(path string) (*SizeEstimate, error) {
	maxRecords := e.SampleRecords
	if maxRecords <= 0 {
		maxRecords = DefaultSampleRecords
	}
	maxTextBytes := e.SampleTextBytes
	if maxTextBytes <= 0 {
		maxTextBytes = DefaultSampleTextBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat dump %s: %w", path, err)
	}
	totalBytes := info.Size()
	if totalBytes <= 0 {
		return &SizeEstimate{Exact: true, TotalBytes: totalBytes}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump %s: %w", path, err)
	}
	defer file.Close()

	counting := &countingReader{r: file}
	decoded, compressed, err := decodeByExtension(path, counting)
	if err != nil {
		return nil, err
	}

	est := &SizeEstimate{TotalBytes: totalBytes, Exact: true}

	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		est.SampledTextBytes += int64(len(line)) + 1
		if CleanDumpLine(line) != "" {
			est.SampledRecords++
		}
		if est.SampledRecords >= maxRecords || est.SampledTextBytes >= maxTextBytes {
			est.Exact = false
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to sample dump %s: %w", path, err)
	}
	if compressed {
		// Raw bytes consumed from the underlying file while decoding the
		// prefix. Decoder readahead overstates this by up to one buffer,
		// which is noise at the sizes being sampled.
		est.SampledRawBytes = counting.n
	} else {
		est.SampledRawBytes = est.SampledTextBytes
	}

	est.Records = extrapolate(est)
	if e.Limit > 0 && est.Records > e.Limit {
		est.Records = e.Limit
	}
	return est, nil
}

// extrapolate derives the total record count from the sample.
func extrapolate(est *SizeEstimate) int64 {
	if est.Exact || est.SampledRecords == 0 {
		return est.SampledRecords
	}

	perRecordRaw := float64(est.SampledRawBytes) / float64(est.SampledRecords)
	if perRecordRaw <= 0 {
		perRecordText := float64(est.SampledTextBytes) / float64(est.SampledRecords)
		if perRecordText <= 0 {
			return est.SampledRecords
		}
		perRecordRaw = perRecordText
	}

	estimated := int64(float64(est.TotalBytes) / perRecordRaw)
	if estimated < est.SampledRecords {
		return est.SampledRecords
	}
	return estimated
}

// CleanDumpLine normalizes one dump line to its JSON record, or returns ""
// for non-record lines. Dumps are JSON arrays with one entity per line, so
// the array brackets and trailing commas are stripped.
func CleanDumpLine(raw string) string {
	line := strings.TrimSpace(raw)
	if line == "" || line == "[" || line == "]" {
		return ""
	}
	line = strings.TrimSuffix(line, ",")
	return strings.TrimSpace(line)
}

// decodeByExtension wraps r with the decompressor matching the file suffix.
func decodeByExtension(path string, r io.Reader) (io.Reader, bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bz2":
		return bzip2.NewReader(r), true, nil
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		return zr, true, nil
	default:
		return r, false, nil
	}
}

// countingReader tracks raw bytes consumed from the underlying source.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
