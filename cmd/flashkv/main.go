// Command flashkv is an interactive driver over a lsm.Tree, reading
// commands from stdin and writing results to stdout.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/flashkv/flashkv/config"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/lsm"
)

func main() {
	var (
		bufferMaxEntries = flag.Int("buffer-max-entries", 1000, "write buffer capacity, in unique keys")
		depth            = flag.Int("depth", 5, "number of levels in the tree")
		fanout           = flag.Int("fanout", 10, "per-level run-count and size fanout")
		threadCount      = flag.Int("thread-count", 4, "worker pool size for parallel search")
		bfBitsPerEntry   = flag.Float64("bf-bits-per-entry", 0.5, "Bloom filter bits-per-entry budget")
	)
	flag.Parse()

	cfg := config.New(
		config.WithBufferMaxEntries(*bufferMaxEntries),
		config.WithDepth(*depth),
		config.WithFanout(*fanout),
		config.WithThreadCount(*threadCount),
		config.WithBFBitsPerEntry(*bfBitsPerEntry),
	)

	tree, err := lsm.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flashkv: %v\n", err)
		os.Exit(1)
	}
	defer tree.Close()

	run(tree, os.Stdin, os.Stdout)
}

func run(tree *lsm.Tree, in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if err := dispatch(tree, writer, fields); err != nil {
			fmt.Fprintf(os.Stderr, "flashkv: %v\n", err)
			os.Exit(1)
		}
		writer.Flush()
	}
}

func dispatch(tree *lsm.Tree, w *bufio.Writer, fields []string) error {
	switch fields[0] {
	case "put":
		k, v, err := parseTwo(fields)
		if err != nil {
			return err
		}
		tree.Put(k, v)

	case "delete":
		k, err := parseOne(fields)
		if err != nil {
			return err
		}
		tree.Delete(k)

	case "get":
		k, err := parseOne(fields)
		if err != nil {
			return err
		}
		if v, ok := tree.Get(k); ok {
			fmt.Fprintf(w, "%d\n", v)
		} else {
			fmt.Fprintln(w)
		}

	case "range":
		lo, hi, err := parseTwo(fields)
		if err != nil {
			return err
		}
		entries := tree.Range(lo, hi)
		fmt.Fprintln(w, formatRange(entries))

	case "load":
		if len(fields) != 2 {
			return fmt.Errorf("load requires exactly one path argument")
		}
		if err := tree.Load(fields[1]); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unrecognized command %q", fields[0])
	}

	return nil
}

func formatRange(entries []entry.Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%d:%d", e.Key, e.Value)
	}
	return strings.Join(parts, " ")
}

func parseOne(fields []string) (int64, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("%s requires exactly one key argument", fields[0])
	}
	return strconv.ParseInt(fields[1], 10, 64)
}

func parseTwo(fields []string) (int64, int64, error) {
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("%s requires exactly two arguments", fields[0])
	}
	a, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
