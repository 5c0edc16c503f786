// Command metadump reads image files and prints their embedded metadata:
// EXIF directories, textual records and any integrity warnings.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tetsuo/imgmeta"
)

var (
	strict bool
	chunks []string
	jobs   int
)

func main() {
	root := &cobra.Command{
		Use:          "metadump [flags] <file>...",
		Short:        "Print embedded image metadata from JPEG, PNG, WebP and HEIF files",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().BoolVar(&strict, "strict", false, "treat integrity warnings as errors")
	root.Flags().StringSliceVar(&chunks, "chunks", nil, "restrict decoding to these chunk types (default: all)")
	root.Flags().IntVar(&jobs, "jobs", 4, "number of files parsed concurrently")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	opts := imgmeta.Options{Strict: strict, Chunks: chunks}

	// Parsing is per-file independent; files are read and decoded
	// concurrently, but printed in argument order.
	results := make([]*imgmeta.Metadata, len(args))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, path := range args {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			m, err := imgmeta.Parse(data, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, m := range results {
		printMetadata(args[i], m)
	}
	return nil
}

func printMetadata(path string, m *imgmeta.Metadata) {
	fmt.Printf("%s: %s\n", path, m.Format)

	for _, dir := range m.Directories() {
		fmt.Printf("\n[%s]\n", dir.Name)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Tag", "Name", "Type", "Count", "Value"})
		for i := range dir.Entries {
			e := &dir.Entries[i]
			table.Append([]string{
				fmt.Sprintf("0x%04X", e.Tag),
				e.Name,
				e.Type.String(),
				strconv.FormatUint(e.Count, 10),
				e.DisplayString(),
			})
		}
		table.Render()
	}

	if texts := m.Texts(); len(texts) > 0 {
		fmt.Printf("\n[text]\n")
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Source", "Keyword", "Value"})
		for _, t := range texts {
			table.Append([]string{t.Source, t.Keyword, t.Value})
		}
		table.Render()
	}

	for _, w := range m.Warnings() {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Println()
}
