package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesim/infra/waypoints"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route related commands",
}

var routeInspectCmd = &cobra.Command{
	Use:   "inspect <source>",
	Short: "Load a waypoint source and print a summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runRouteInspect,
}

func init() {
	routeCmd.AddCommand(routeInspectCmd)
	rootCmd.AddCommand(routeCmd)
}

func runRouteInspect(cmd *cobra.Command, args []string) error {
	r, err := waypoints.Load(args[0])
	if err != nil {
		return err
	}
	sw, ne := r.Bounds()
	first, last := r.First(), r.Last()
	out := cmd.OutOrStdout()
	_, err = fmt.Fprintf(out, "waypoints: %d\nlength_m: %.1f\nfirst: %f,%f\nlast: %f,%f\nbounds: %f,%f %f,%f\n",
		r.Len(), r.LengthMeters(), first.Lat, first.Lon, last.Lat, last.Lon, sw.Lat, sw.Lon, ne.Lat, ne.Lon)
	return err
}
