// Command xsortbench generates synthetic fixed-size-key records, sorts
// them with xsort.Sort, and reports throughput.
package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/CZ-NIC/xsort"
)

// tunableOverlay is the subset of xsort.Config a caller may override via
// a YAML file, layered on top of the flag-derived defaults. Only
// non-zero fields in the overlay take effect.
type tunableOverlay struct {
	SortBufferBytes     int64 `yaml:"sort_buffer_bytes"`
	StreamBufferBytes   int   `yaml:"stream_buffer_bytes"`
	RadixThresholdBytes int64 `yaml:"radix_threshold_bytes"`
	RadixBits           int   `yaml:"radix_bits"`
	MinRadixBits        int   `yaml:"min_radix_bits"`
	MaxRadixBits        int   `yaml:"max_radix_bits"`
	MinMultiwayBits     int   `yaml:"min_multiway_bits"`
	MaxMultiwayBits     int   `yaml:"max_multiway_bits"`
	WorkerThreads       int   `yaml:"worker_threads"`
	MaxOpenFiles        int   `yaml:"max_open_files"`
}

func (o tunableOverlay) apply(cfg xsort.Config) xsort.Config {
	if o.SortBufferBytes > 0 {
		cfg.SortBufferBytes = o.SortBufferBytes
	}
	if o.StreamBufferBytes > 0 {
		cfg.StreamBufferBytes = o.StreamBufferBytes
	}
	if o.RadixThresholdBytes > 0 {
		cfg.RadixThresholdBytes = o.RadixThresholdBytes
	}
	if o.RadixBits > 0 {
		cfg.RadixBits = o.RadixBits
	}
	if o.MinRadixBits > 0 {
		cfg.MinRadixBits = o.MinRadixBits
	}
	if o.MaxRadixBits > 0 {
		cfg.MaxRadixBits = o.MaxRadixBits
	}
	if o.MinMultiwayBits > 0 {
		cfg.MinMultiwayBits = o.MinMultiwayBits
	}
	if o.MaxMultiwayBits > 0 {
		cfg.MaxMultiwayBits = o.MaxMultiwayBits
	}
	if o.WorkerThreads > 0 {
		cfg.WorkerThreads = o.WorkerThreads
	}
	if o.MaxOpenFiles > 0 {
		cfg.MaxOpenFiles = o.MaxOpenFiles
	}
	return cfg
}

func loadOverlay(path string) (tunableOverlay, error) {
	var o tunableOverlay
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("reading tunable overlay: %w", err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing tunable overlay: %w", err)
	}
	return o, nil
}

// recordAdapter is the CCA used to benchmark: an 8-byte big-endian random
// key (also its own monotone hash, since the key is drawn uniformly from
// the full uint64 range) followed by a fixed-size payload.
type recordAdapter struct {
	payloadBytes int
}

func (recordAdapter) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (recordAdapter) ReadKey(r io.Reader) (uint64, bool, error) {
	var buf [8]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.EOF {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(buf[:]), true, nil
}

func (a recordAdapter) WriteRecord(src io.Reader, dst io.Writer, key uint64) error {
	tail := make([]byte, a.payloadBytes)
	if _, err := io.ReadFull(src, tail); err != nil {
		return err
	}
	return a.StoreRecord(dst, key, tail)
}

func (a recordAdapter) FetchRecord(r io.Reader, key uint64, limit int) ([]byte, bool, error) {
	if limit < a.payloadBytes {
		return nil, false, nil
	}
	tail := make([]byte, a.payloadBytes)
	if _, err := io.ReadFull(r, tail); err != nil {
		return nil, false, err
	}
	return tail, true, nil
}

func (recordAdapter) StoreRecord(w io.Writer, key uint64, tail []byte) error {
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], key)
	if _, err := w.Write(kb[:]); err != nil {
		return err
	}
	_, err := w.Write(tail)
	return err
}

func (a recordAdapter) KeySize() int { return 8 }

func (recordAdapter) Hash(key uint64) uint64 { return key }
func (recordAdapter) HashBits() int          { return 64 }

func generateInput(path string, records int, payloadBytes int, seed int64, bar *progressbar.ProgressBar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 64<<10)
	defer w.Flush()

	rng := rand.New(rand.NewSource(seed))
	record := make([]byte, 8+payloadBytes)
	for i := 0; i < records; i++ {
		binary.BigEndian.PutUint64(record[:8], rng.Uint64())
		if _, err := rng.Read(record[8:]); err != nil {
			return err
		}
		if _, err := w.Write(record); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(len(record))
		}
	}
	return nil
}

func verifySorted(path string, recordBytes int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, recordBytes)
	var prev uint64
	count := 0
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		key := binary.BigEndian.Uint64(buf[:8])
		if count > 0 && key < prev {
			return count, fmt.Errorf("out of order at record %d: %d < %d", count, key, prev)
		}
		prev = key
		count++
	}
	return count, nil
}

func main() {
	app := &cli.App{
		Name:  "xsortbench",
		Usage: "generate synthetic records and sort them with xsort",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "records", Value: 2_000_000, Usage: "number of records to generate"},
			&cli.IntFlag{Name: "payload-bytes", Value: 24, Usage: "payload bytes per record, beyond the 8-byte key"},
			&cli.Int64Flag{Name: "sort-buffer-mb", Value: 64, Usage: "in-memory sort buffer size, in MiB"},
			&cli.IntFlag{Name: "workers", Value: 0, Usage: "worker pool size for the array sorter (0 disables parallelism)"},
			&cli.IntFlag{Name: "trace-level", Value: 1, Usage: "0 silent, 1 banner+summary, 2 live status, 3 per-pass detail"},
			&cli.StringFlag{Name: "tunables", Usage: "optional YAML file overlaying sort tunables"},
			&cli.BoolFlag{Name: "bloom", Usage: "build a distinct-key bloom filter alongside the sort"},
			&cli.BoolFlag{Name: "verify", Value: true, Usage: "verify the output is sorted after the run"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "PRNG seed for synthetic input generation"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "xsortbench:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	records := c.Int("records")
	payloadBytes := c.Int("payload-bytes")
	recordBytes := 8 + payloadBytes

	tmpDir, err := os.MkdirTemp("", "xsortbench")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "input.bin")
	outPath := filepath.Join(tmpDir, "output.bin")

	fmt.Printf("generating %s records (%s payload each)...\n", humanize.Comma(int64(records)), humanize.Bytes(uint64(payloadBytes)))
	genBar := progressbar.DefaultBytes(int64(records)*int64(recordBytes), "generating")
	if err := generateInput(inPath, records, payloadBytes, c.Int64("seed"), genBar); err != nil {
		return fmt.Errorf("generating input: %w", err)
	}
	_ = genBar.Finish()

	cfg := xsort.Default()
	cfg.SortBufferBytes = c.Int64("sort-buffer-mb") << 20
	cfg.WorkerThreads = c.Int("workers")
	cfg.TraceLevel = c.Int("trace-level")

	if overlayPath := c.String("tunables"); overlayPath != "" {
		overlay, err := loadOverlay(overlayPath)
		if err != nil {
			return err
		}
		cfg = overlay.apply(cfg)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	adapter := recordAdapter{payloadBytes: payloadBytes}

	var bf *xsort.BloomFilter[uint64]
	var sortAdapter xsort.Adapter[uint64] = adapter
	if c.Bool("bloom") {
		bf = xsort.NewBloomFilter(records, 0.01, func(k uint64) []byte {
			var kb [8]byte
			binary.BigEndian.PutUint64(kb[:], k)
			return kb[:]
		})
		sortAdapter = bloomAdapter{recordAdapter: adapter, sink: bf}
	}

	fmt.Println("sorting...")
	start := time.Now()
	if err := xsort.Sort(in, out, sortAdapter, cfg); err != nil {
		return fmt.Errorf("sort: %w", err)
	}
	elapsed := time.Since(start)

	totalBytes := int64(records) * int64(recordBytes)
	mbPerSec := float64(totalBytes) / elapsed.Seconds() / (1 << 20)
	fmt.Printf("----------------------------------------\n")
	fmt.Printf("records:    %s\n", humanize.Comma(int64(records)))
	fmt.Printf("total size: %s\n", humanize.Bytes(uint64(totalBytes)))
	fmt.Printf("elapsed:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("throughput: %.2f MB/s\n", mbPerSec)
	if bf != nil {
		size, hashCount, count := bf.Stats()
		fmt.Printf("bloom:      %s bits, %d hashes, %s keys observed\n",
			humanize.Comma(int64(size)), hashCount, humanize.Comma(int64(count)))
	}
	fmt.Printf("----------------------------------------\n")

	if c.Bool("verify") {
		n, err := verifySorted(outPath, recordBytes)
		if err != nil {
			return fmt.Errorf("output not sorted: %w", err)
		}
		fmt.Printf("verified %s records in ascending key order\n", humanize.Comma(int64(n)))
	}

	return nil
}

// bloomAdapter layers DistinctSink onto recordAdapter so xsort.Sort's
// optional-capability detection picks it up via a single type assertion.
type bloomAdapter struct {
	recordAdapter
	sink *xsort.BloomFilter[uint64]
}

func (b bloomAdapter) Observe(key uint64) { b.sink.Observe(key) }
