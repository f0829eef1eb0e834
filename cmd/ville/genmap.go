package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/ville/internal/world"
)

var genMap = world.DefaultGenConfig()

var genMapOut string

var genMapCmd = &cobra.Command{
	Use:   "gen-map",
	Short: "Generate a demo village bootstrap",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := world.Generate(genMap)
		if err := world.SaveBootstrap(genMapOut, b); err != nil {
			return err
		}
		info, err := os.Stat(genMapOut)
		if err != nil {
			return err
		}
		fmt.Printf("%s written to %s (%s)\n", b.Describe(), genMapOut, humanize.Bytes(uint64(info.Size())))
		return nil
	},
}

func init() {
	f := genMapCmd.Flags()
	f.StringVar(&genMap.World, "world", genMap.World, "World name")
	f.IntVar(&genMap.Width, "width", genMap.Width, "Map width in tiles")
	f.IntVar(&genMap.Height, "height", genMap.Height, "Map height in tiles")
	f.Int64Var(&genMap.Seed, "seed", genMap.Seed, "Noise seed (0 = random)")
	f.Float64Var(&genMap.TreeLevel, "tree-level", genMap.TreeLevel, "Noise threshold for trees")
	f.StringSliceVar(&genMap.Residents, "residents", genMap.Residents, "One house per resident")
	f.StringVar(&genMapOut, "out", "configs/world.json", "Output path")
}
