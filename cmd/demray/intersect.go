package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pavletto/demray/internal/api"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// intersectCmd represents the intersect command
var intersectCmd = &cobra.Command{
	Use:   "intersect",
	Short: "Intersect a look ray with the DEM",
	Long: `Find where a ray from an observer meets the DEM surface.

Positions are body-fixed kilometres. The look direction is given either as a
vector or as a camera attitude quaternion (w,x,y,z) rotating the +X boresight.

Examples:
  demray intersect --dem mola --observer 3500,0,0 --look -1,0,0
  demray intersect --dem mola --observer 3500,0,0 --quat 0,0,0,1 --normal local
  demray intersect --dem ./dem/mola.json --observer 3500,-2,0 --look -1,0.01,0 --verify --json`,
	Run: func(cmd *cobra.Command, args []string) {
		req, err := intersectionRequest(cmd)
		if err != nil {
			log.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx, cmd)
		if err != nil {
			log.Fatal(err)
		}
		defer a.close(ctx)

		result, err := api.SearchIntersection(ctx, a.env, req)
		if err != nil {
			log.Fatalf("Intersection failed: %v", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				log.Fatal(err)
			}
			return
		}
		printIntersection(result)
	},
}

func intersectionRequest(cmd *cobra.Command) (api.IntersectionRequest, error) {
	var req api.IntersectionRequest

	observer, _ := cmd.Flags().GetString("observer")
	vals, err := parseFloats(observer, 3)
	if err != nil {
		return req, fmt.Errorf("invalid --observer: %w", err)
	}
	copy(req.Observer[:], vals)

	look, _ := cmd.Flags().GetString("look")
	quat, _ := cmd.Flags().GetString("quat")
	switch {
	case quat != "":
		vals, err := parseFloats(quat, 4)
		if err != nil {
			return req, fmt.Errorf("invalid --quat: %w", err)
		}
		req.Quat = &[4]float64{}
		copy(req.Quat[:], vals)
	case look != "":
		vals, err := parseFloats(look, 3)
		if err != nil {
			return req, fmt.Errorf("invalid --look: %w", err)
		}
		copy(req.Look[:], vals)
	default:
		return req, fmt.Errorf("one of --look or --quat is required")
	}

	req.Normal, _ = cmd.Flags().GetString("normal")
	req.NeighborAngle, _ = cmd.Flags().GetFloat64("neighbor-angle")
	req.Verify, _ = cmd.Flags().GetBool("verify")
	return req, nil
}

func printIntersection(r api.IntersectionResult) {
	for _, s := range r.Stages {
		line := fmt.Sprintf("Stage %s: %s after %d iterations", s.Refiner, s.Status, s.Iterations)
		if s.Error != "" {
			line += " (" + s.Error + ")"
		}
		fmt.Println(line)
	}
	if !r.Hit {
		fmt.Println("No intersection")
		return
	}
	fmt.Printf("Point: %.6f, %.6f, %.6f km\n", r.Point[0], r.Point[1], r.Point[2])
	fmt.Printf("Location: %.6f, %.6f\n", r.Lat, r.Lon)
	fmt.Printf("Radius: %.6f km\n", r.Radius)
	fmt.Printf("Resolution: %.3f m/pixel\n", r.Resolution)
	if r.Normal != nil {
		fmt.Printf("Normal (%s): %.6f, %.6f, %.6f\n", r.NormalKind, r.Normal[0], r.Normal[1], r.Normal[2])
	}
	if r.Verify != nil {
		if r.Verify.Found {
			fmt.Printf("Verify: march agrees within %.3f m\n", r.Verify.OffsetM)
		} else {
			fmt.Println("Verify: march found no crossing")
		}
	}
}

func init() {
	rootCmd.AddCommand(intersectCmd)
	addIntersectFlags(intersectCmd.Flags())
	intersectCmd.MarkFlagRequired("observer")
}

func addIntersectFlags(fs *pflag.FlagSet) {
	fs.String("observer", "", "Observer position x,y,z in km (required)")
	fs.String("look", "", "Look direction x,y,z")
	fs.String("quat", "", "Camera attitude quaternion w,x,y,z (overrides --look)")
	fs.String("normal", "", "Also compute a normal: ellipsoid or local")
	fs.Float64("neighbor-angle", 0, "Neighbour ray tilt in radians for --normal local (0 means one pixel)")
	fs.Bool("verify", false, "Cross-check with a brute-force march")
	fs.Bool("json", false, "Print the result as JSON")
}
