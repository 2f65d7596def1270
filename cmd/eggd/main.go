package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TuyenPKT/EGG-Project/pkg/config"
	"github.com/TuyenPKT/EGG-Project/pkg/core/blockchain"
	"github.com/TuyenPKT/EGG-Project/pkg/core/mempool"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
	"github.com/TuyenPKT/EGG-Project/pkg/miner"
	"github.com/TuyenPKT/EGG-Project/pkg/p2p"
	"github.com/TuyenPKT/EGG-Project/pkg/rpc"
)

var (
	flagDataDir  string
	flagSpecPath string
)

func main() {
	root := &cobra.Command{
		Use:           "eggd",
		Short:         "EGG proof-of-work blockchain node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDataDir, "datadir", "data", "database directory (empty for in-memory)")
	root.PersistentFlags().StringVar(&flagSpecPath, "chainspec", "", "chainspec TOML file (defaults to mainnet)")

	root.AddCommand(initCmd(), runCmd(), syncCmd(), mineCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("eggd failed")
	}
}

func loadSpec() (types.ChainSpec, error) {
	if flagSpecPath == "" {
		return config.DefaultChainSpec(), nil
	}
	return config.LoadChainSpec(flagSpecPath)
}

func openState() (*blockchain.ChainState, *blockchain.BadgerKV, error) {
	spec, err := loadSpec()
	if err != nil {
		return nil, nil, err
	}
	if flagDataDir != "" {
		if err := os.MkdirAll(flagDataDir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	kv, err := blockchain.NewBadgerKV(flagDataDir)
	if err != nil {
		return nil, nil, err
	}
	st, err := blockchain.OpenOrInit(blockchain.NewChainStore(kv), spec)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	if err := st.VerifyGenesisMatchesSpec(); err != nil {
		kv.Close()
		return nil, nil, err
	}
	return st, kv, nil
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Info("shutting down")
		cancel()
	}()
	return ctx
}

func initCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the database with genesis and optionally write a chainspec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, kv, err := openState()
			if err != nil {
				return err
			}
			defer kv.Close()

			tip := st.Tip()
			logrus.WithFields(logrus.Fields{"height": tip.Height, "genesis": tip.Hash}).Info("chain initialized")
			if out != "" {
				if err := config.SaveChainSpec(out, st.Spec()); err != nil {
					return err
				}
				logrus.WithField("path", out).Info("wrote chainspec")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "write-spec", "", "write the effective chainspec to this path")
	return cmd
}

func runCmd() *cobra.Command {
	var listenAddr, rpcAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve chain data to inbound peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, kv, err := openState()
			if err != nil {
				return err
			}
			defer kv.Close()

			ctx := signalContext()
			mp := mempool.New()

			if rpcAddr != "" {
				srv := rpc.NewServer(st, mp, nil)
				go func() {
					if err := srv.Start(rpcAddr); err != nil {
						logrus.WithError(err).Error("rpc server stopped")
					}
				}()
			}

			listener, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return err
			}
			defer listener.Close()
			go func() {
				<-ctx.Done()
				listener.Close()
			}()
			logrus.WithField("addr", listener.Addr()).Info("p2p listening")

			for {
				if err := p2p.RunResponderOnce(ctx, listener, st); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logrus.WithError(err).Warn("responder session ended")
				}
			}
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", ":9000", "P2P listen address")
	cmd.Flags().StringVar(&rpcAddr, "rpc", ":8080", "RPC listen address (empty to disable)")
	return cmd
}

func syncCmd() *cobra.Command {
	var peerAddr string
	var batchMax uint32
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local chain from a remote peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if peerAddr == "" {
				return fmt.Errorf("--peer is required")
			}
			st, kv, err := openState()
			if err != nil {
				return err
			}
			defer kv.Close()

			ctx := signalContext()
			return p2p.RunSyncerOnce(ctx, peerAddr, st, batchMax)
		},
	}
	cmd.Flags().StringVar(&peerAddr, "peer", "", "remote peer address")
	cmd.Flags().Uint32Var(&batchMax, "batch", p2p.HeaderBatchMax, "header batch limit")
	return cmd
}

func mineCmd() *cobra.Command {
	var count int
	var bits uint32
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine blocks onto the local chain tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, kv, err := openState()
			if err != nil {
				return err
			}
			defer kv.Close()

			mp := mempool.New()
			for i := 0; i < count; i++ {
				tip := st.Tip()
				blk, err := miner.MineFromMempool(mp, tip.Hash, tip.Height+1, time.Now().Unix(), bits)
				if err != nil {
					return err
				}
				id, outcome, err := st.IngestBlock(blk)
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"height":  blk.Header.Height,
					"id":      id,
					"outcome": outcome,
				}).Info("mined block")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of blocks to mine")
	cmd.Flags().Uint32Var(&bits, "bits", 0, "pow difficulty bits for mined blocks")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the local chain status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, kv, err := openState()
			if err != nil {
				return err
			}
			defer kv.Close()

			if err := st.ValidateBestChain(); err != nil {
				return err
			}
			tip := st.Tip()
			meta := st.Meta()
			fmt.Printf("chain:    %s (id %d)\n", st.Spec().Chain.ChainName, meta.ChainID)
			fmt.Printf("genesis:  %s\n", meta.GenesisID)
			fmt.Printf("height:   %d\n", tip.Height)
			fmt.Printf("tip:      %s\n", tip.Hash)
			return nil
		},
	}
}
