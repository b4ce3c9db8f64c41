package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	clog "cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/kocubinski/merkavl"
	"github.com/kocubinski/merkavl/bench"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func main() {
	root := &cobra.Command{
		Use:   "merkavl-bench",
		Short: "replay generated changesets against a merkavl store",
	}
	root.AddCommand(treeCommand())

	if err := root.Execute(); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func newBackend(kind, dir string) (merkavl.Backend, error) {
	switch kind {
	case "mem":
		return merkavl.NewMemBackend(), nil
	case "leveldb":
		levelDb, err := dbm.NewGoLevelDBWithOpts("merkavl", dir, &opt.Options{})
		if err != nil {
			return nil, err
		}
		return merkavl.NewKVBackend(levelDb), nil
	case "sqlite":
		return merkavl.NewSQLBackend(filepath.Join(dir, "merkavl.db"))
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func treeCommand() *cobra.Command {
	var (
		backendKind string
		dir         string
		seed        int64
		versions    int64
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "build the tree from generated changesets",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newBackend(backendKind, dir)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				go func() {
					http.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(metricsAddr, nil); err != nil {
						log.Error().Err(err).Msg("metrics server stopped")
					}
				}()
			}

			opts := merkavl.DefaultStoreOptions()
			opts.Logger = clog.NewCustomLogger(log)
			opts.Metrics = merkavl.NewMetrics(prometheus.DefaultRegisterer,
				prometheus.Labels{"backend": backendKind})
			store, err := merkavl.NewStore(backend, opts)
			if err != nil {
				return err
			}
			defer store.Close()
			tree := merkavl.NewTree(store)

			hashLog, err := os.Create(filepath.Join(dir, "merkavl-hash.log"))
			if err != nil {
				return err
			}
			defer hashLog.Close()

			itr, err := bench.BankLikeGenerator(seed, versions).Iterator()
			if err != nil {
				return err
			}

			cnt := 0
			since := time.Now()
			for ; itr.Valid(); itr.Next() {
				for _, n := range itr.GetChangeset().Nodes {
					cnt++
					if cnt%100_000 == 0 {
						log.Info().Msgf("processed %s leaves in %s; %s leaves/s",
							humanize.Comma(int64(cnt)),
							time.Since(since),
							humanize.Comma(int64(100_000/time.Since(since).Seconds())))
						since = time.Now()
					}

					if n.Delete {
						if _, ok, err := tree.Remove(n.Key); err != nil {
							return err
						} else if !ok {
							return fmt.Errorf("failed to remove key %x; version %d", n.Key, itr.Version())
						}
					} else {
						if _, err := tree.Set(n.Key, n.Value); err != nil {
							return err
						}
					}
				}

				hash, version, err := tree.SaveVersion()
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(hashLog, "%d|%x\n", version, hash); err != nil {
					return err
				}
			}

			log.Info().Msgf("done; %s leaves, final version %d, root %x",
				humanize.Comma(int64(cnt)), tree.Version()-1, tree.Hash())
			return nil
		},
	}
	cmd.Flags().StringVar(&backendKind, "backend", "mem", "backend: mem, leveldb or sqlite")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for the backend and hash log")
	cmd.Flags().Int64Var(&seed, "seed", 1234, "seed for the random number generator")
	cmd.Flags().Int64Var(&versions, "versions", 1000, "number of versions to build")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for prometheus metrics")
	return cmd
}
