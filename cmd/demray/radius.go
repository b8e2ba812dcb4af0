package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pavletto/demray/internal/api"
	"github.com/spf13/cobra"
)

// radiusCmd represents the radius command
var radiusCmd = &cobra.Command{
	Use:   "radius",
	Short: "Get the local DEM radius at a location",
	Long: `Get the bilinearly interpolated DEM radius at a planetocentric latitude and
positive-east longitude.

Examples:
  demray radius --dem mola --lat 18.65 --lon 226.2
  demray radius --dem ./dem/mola.json --lat -4.5 --lon 137.4`,
	Run: func(cmd *cobra.Command, args []string) {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")

		if lat < -90 || lat > 90 {
			log.Fatal("Latitude must be between -90 and 90")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx, cmd)
		if err != nil {
			log.Fatal(err)
		}
		defer a.close(ctx)

		result, err := api.PickRadius(ctx, a.env, api.RadiusRequest{Lat: lat, Lon: lon})
		if err != nil {
			log.Fatalf("Failed to get radius: %v", err)
		}

		fmt.Printf("Location: %.6f, %.6f\n", result.Lat, result.Lon)
		fmt.Printf("Radius: %.6f km\n", result.Radius)
		fmt.Printf("DEM: %s (%s)\n", result.DEM, a.meta.Source)
	},
}

func init() {
	rootCmd.AddCommand(radiusCmd)

	radiusCmd.Flags().Float64("lat", 0, "Latitude (required)")
	radiusCmd.Flags().Float64("lon", 0, "Longitude (required)")
	radiusCmd.MarkFlagRequired("lat")
	radiusCmd.MarkFlagRequired("lon")
}
