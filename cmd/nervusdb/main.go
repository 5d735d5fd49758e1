// Package main provides the nervusdb diagnostic CLI.
//
// This is not a query shell: spec.md's Non-goals explicitly exclude a
// Cypher front end from this kernel, so the commands here are limited
// to lifecycle and inspection operations a host application or an
// operator would run against the storage layer directly — open a
// database and report its shape, force a checkpoint or compaction, or
// inspect the WAL tail for diagnosis after a crash.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/ysankpia/nervusdb/pkg/config"
	"github.com/ysankpia/nervusdb/pkg/storage/engine"
	"github.com/ysankpia/nervusdb/pkg/storage/wal"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	stdLog := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	rootCmd := &cobra.Command{
		Use:   "nervusdb",
		Short: "Diagnostic CLI for the NervusDB storage kernel",
		Long: `nervusdb inspects and maintains a NervusDB v2 storage kernel
database directory.

It does not parse or execute queries: that is a separate layer built
on top of pkg/storage/engine.GraphStore. These commands operate
directly on the storage kernel itself.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nervusdb v%s (%s)\n", version, commit)
		},
	})

	var dataDir string
	var configPath string

	openOpts := func() (config.Options, error) {
		if configPath != "" {
			return config.LoadFile(configPath)
		}
		return config.Default(), nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Report database size and shape",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := openOpts()
			if err != nil {
				return err
			}
			e, err := engine.Open(dataDir, opts, stdLog)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dataDir, err)
			}
			defer e.Close()

			snap := e.BeginRead()
			stats := snap.Statistics()

			pagesPath := filepath.Join(e.Dir(), "pages.db")
			walPath := e.WALPath()
			pagesSize, _ := fileSize(pagesPath)
			walSize, _ := fileSize(walPath)

			fmt.Printf("directory:   %s\n", e.Dir())
			fmt.Printf("pages file:  %s (%s)\n", pagesPath, humanize.Bytes(uint64(pagesSize)))
			fmt.Printf("wal file:    %s (%s)\n", walPath, humanize.Bytes(uint64(walSize)))
			fmt.Printf("runs:        %d\n", len(snap.Runs))
			fmt.Printf("segments:    %d\n", len(snap.Segments))
			fmt.Printf("nodes:       %d\n", stats.NodeCount)
			fmt.Printf("edges:       %d\n", stats.EdgeCount)
			fmt.Printf("labels:      %d distinct\n", len(stats.LabelCounts))
			fmt.Printf("rel types:   %d distinct\n", len(stats.RelTypeCounts))
			return nil
		},
	}
	statsCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Database directory")
	statsCmd.Flags().StringVar(&configPath, "config", "", "Options YAML file (defaults to built-in defaults)")
	rootCmd.AddCommand(statsCmd)

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Force a checkpoint (fold all Runs into a Segment, truncate the WAL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := openOpts()
			if err != nil {
				return err
			}
			e, err := engine.Open(dataDir, opts, stdLog)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dataDir, err)
			}
			defer e.Close()

			start := time.Now()
			if err := e.Checkpoint(); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			fmt.Printf("checkpoint complete in %s\n", time.Since(start))
			return nil
		},
	}
	checkpointCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Database directory")
	checkpointCmd.Flags().StringVar(&configPath, "config", "", "Options YAML file")
	rootCmd.AddCommand(checkpointCmd)

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Force a manual compaction (fold all Runs and Segments into one Segment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := openOpts()
			if err != nil {
				return err
			}
			e, err := engine.Open(dataDir, opts, stdLog)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dataDir, err)
			}
			defer e.Close()

			start := time.Now()
			if err := e.Compact(config.Manual); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Printf("compaction complete in %s\n", time.Since(start))
			return nil
		},
	}
	compactCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Database directory")
	compactCmd.Flags().StringVar(&configPath, "config", "", "Options YAML file")
	rootCmd.AddCommand(compactCmd)

	openCmd := &cobra.Command{
		Use:   "open",
		Short: "Create the database directory if missing, then report manifest stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dataDir, err)
			}
			opts, err := openOpts()
			if err != nil {
				return err
			}
			e, err := engine.Open(dataDir, opts, stdLog)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dataDir, err)
			}
			defer e.Close()

			stats := e.BeginRead().Statistics()
			fmt.Printf("opened %s\n", dataDir)
			fmt.Printf("nodes: %d  edges: %d\n", stats.NodeCount, stats.EdgeCount)
			return nil
		},
	}
	openCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Database directory")
	openCmd.Flags().StringVar(&configPath, "config", "", "Options YAML file")
	rootCmd.AddCommand(openCmd)

	dumpWALCmd := &cobra.Command{
		Use:   "dump-wal",
		Short: "Dump WAL records in order, stopping at the first corrupt or partial record",
		RunE: func(cmd *cobra.Command, args []string) error {
			walPath := filepath.Join(dataDir, "nervusdb.wal")
			count := 0
			validBytes, err := wal.Replay(walPath, func(rec wal.Record) error {
				fmt.Printf("lsn=%d tx=%d kind=%s payload_bytes=%d\n",
					rec.LSN, rec.TxID, kindName(rec.Kind), len(rec.Payload))
				count++
				return nil
			})
			if err != nil {
				return fmt.Errorf("dump-wal: %w", err)
			}
			fmt.Printf("%d well-formed records, %s valid bytes\n", count, humanize.Bytes(uint64(validBytes)))
			return nil
		},
	}
	dumpWALCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Database directory")
	rootCmd.AddCommand(dumpWALCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func kindName(k wal.Kind) string {
	switch k {
	case wal.KindTxnBegin:
		return "TxnBegin"
	case wal.KindCreateNode:
		return "CreateNode"
	case wal.KindDeleteNode:
		return "DeleteNode"
	case wal.KindCreateEdge:
		return "CreateEdge"
	case wal.KindDeleteEdge:
		return "DeleteEdge"
	case wal.KindSetNodeLabel:
		return "SetNodeLabel"
	case wal.KindSetNodeProp:
		return "SetNodeProp"
	case wal.KindSetEdgeProp:
		return "SetEdgeProp"
	case wal.KindInternLabel:
		return "InternLabel"
	case wal.KindInternRelType:
		return "InternRelType"
	case wal.KindTxnCommit:
		return "TxnCommit"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}
