package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "demray",
	Short: "Ray/DEM surface intersection",
	Long: `demray intersects observer look rays with a digital elevation model of a
planetary body.

It provides both CLI commands and HTTP API endpoints for:
- Intersection: find where a look ray meets the DEM surface
- Radius Lookup: get the local DEM radius at a planetocentric lat/lon

Configuration can be set via environment variables or command-line flags.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

// addGlobalFlags defines the DEM, refinement and logging flags shared by every
// subcommand.
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP("dem", "d", "", "DEM name in the cache or path to a .json label")
	fs.StringP("cache-dir", "c", "./cache", "Cache directory for DEM files")
	fs.String("url-template", "", "URL template for downloading DEMs ({name}, {file})")
	fs.String("radii", "", "Target radii a,b,c in km (default from DEM label)")
	fs.Float64("ifov", 0, "Camera IFOV in rad/pixel (0 uses the DEM ground sample distance)")
	fs.Int("max-secant-iterations", 100, "Secant refinement iteration budget")
	fs.Int("max-fixed-point-iterations", 100, "Fixed-point refinement iteration budget")
	fs.Int("block-size", 256, "Raster block edge in pixels")
	fs.Int("cache-blocks", 64, "Raster blocks kept in memory")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text, json)")
}
