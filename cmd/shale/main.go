package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shaledb/shale/common"
	"github.com/shaledb/shale/index"
	"github.com/shaledb/shale/logging"
	"github.com/shaledb/shale/storage"
)

var rootCmd = &cobra.Command{
	Use:   "shale",
	Short: "shale storage engine inspector",
	Long:  "Create, load and inspect page-backed B+ tree indexes in a shale data directory.",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("data-dir", ".", "directory holding the database and log files")
	flags.Int("pool-size", 64, "buffer pool frames")
	flags.Int("leaf-max-size", 0, "leaf fan-out (0 = fit page)")
	flags.Int("internal-max-size", 0, "internal fan-out (0 = fit page)")
	flags.Bool("verbose", false, "log at debug level")

	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("SHALE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(loadCmd, getCmd, dumpCmd)
}

// openTree builds the stack: disk manager, WAL sink, buffer pool, index.
func openTree(name string) (*index.BPlusTree[int64], func(), error) {
	dir := viper.GetString("data-dir")
	if viper.GetBool("verbose") {
		common.ConfigureLogger(zap.Must(zap.NewDevelopment()))
	}

	dm, err := storage.NewFileDiskManager(filepath.Join(dir, "shale.db"))
	if err != nil {
		return nil, nil, err
	}
	lm, err := logging.NewFileLogManager(filepath.Join(dir, "shale.log"))
	if err != nil {
		_ = dm.Close()
		return nil, nil, err
	}
	bp := storage.NewBufferPoolInstance(viper.GetInt("pool-size"), dm, lm)

	codec := index.Int64Codec{}
	leafMax := viper.GetInt("leaf-max-size")
	if leafMax == 0 {
		leafMax = index.DefaultLeafMaxSize[int64](codec)
	}
	internalMax := viper.GetInt("internal-max-size")
	if internalMax == 0 {
		internalMax = index.DefaultInternalMaxSize[int64](codec)
	}

	tree, err := index.NewBPlusTree[int64](name, bp, codec, leafMax, internalMax)
	if err != nil {
		_ = lm.Close()
		_ = dm.Close()
		return nil, nil, err
	}

	cleanup := func() {
		bp.FlushAllPages()
		_ = lm.Close()
		_ = dm.Close()
	}
	return tree, cleanup, nil
}

var loadCmd = &cobra.Command{
	Use:   "load <index> <key>...",
	Short: "insert integer keys into an index",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, cleanup, err := openTree(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		inserted := 0
		for _, arg := range args[1:] {
			key, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("bad key %q: %w", arg, err)
			}
			rid := common.RID{PageID: common.PageID(key), Slot: 0}
			if tree.Insert(key, rid) {
				inserted++
			} else {
				common.Warn("duplicate key skipped", zap.Int64("key", key))
			}
		}
		fmt.Printf("inserted %d of %d keys\n", inserted, len(args)-1)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <index> <key>",
	Short: "point lookup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, cleanup, err := openTree(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad key %q: %w", args[1], err)
		}
		rid, ok := tree.GetValue(key)
		if !ok {
			fmt.Printf("%d: not found\n", key)
			return nil
		}
		fmt.Printf("%d -> %s\n", key, rid)
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <index>",
	Short: "print the tree structure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, cleanup, err := openTree(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		fmt.Print(tree.Dump())
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
