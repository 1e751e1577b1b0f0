// Command latticecli is a thin embedding-surface demo over pkg/engine,
// exposing put/get/delete/write/compact as cobra subcommands.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latticedb/lattice/pkg/batch"
	"github.com/latticedb/lattice/pkg/common/log"
	"github.com/latticedb/lattice/pkg/config"
	"github.com/latticedb/lattice/pkg/engine"
	"github.com/latticedb/lattice/pkg/version"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:     "latticecli",
		Short:   "Embedded LSM key-value store command-line driver",
		Version: version.GetFullVersion(),
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "./lattice-data", "database directory")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), writeCmd(), compactCmd())

	if err := root.Execute(); err != nil {
		log.Error("latticecli: %v", err)
		os.Exit(1)
	}
}

func openDB() (*engine.DB, error) {
	return engine.Open(config.Config{Dir: dbPath, CreateIfMissing: true})
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write a single key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Put([]byte(args[0]), []byte(args[1]))
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key's current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			v, ok, err := db.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "(not found)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Tombstone a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Delete([]byte(args[0]))
		},
	}
}

func writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write",
		Short: "Apply a batch of put/delete ops read from stdin (one 'put k v' or 'delete k' per line)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			b := batch.New()
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				fields := strings.SplitN(line, " ", 3)
				switch fields[0] {
				case "put":
					if len(fields) != 3 {
						return fmt.Errorf("malformed put line: %q", line)
					}
					b.Put([]byte(fields[1]), []byte(fields[2]))
				case "delete":
					if len(fields) != 2 {
						return fmt.Errorf("malformed delete line: %q", line)
					}
					b.Delete([]byte(fields[1]))
				default:
					return fmt.Errorf("unknown op %q", fields[0])
				}
			}
			if err := sc.Err(); err != nil {
				return err
			}
			return db.Write(b)
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Report engine stats (background compaction runs automatically while the database is open)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			for k, v := range db.Stats() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", k, v)
			}
			return nil
		},
	}
}
