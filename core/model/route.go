package model

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// earthRadiusMeters is the mean Earth radius used for haversine distances.
const earthRadiusMeters = 6371008.8

// ErrEmptyRoute is returned when a route is built from zero waypoints.
var ErrEmptyRoute = errors.New("route requires at least one waypoint")

// Waypoint is a geographic point.
type Waypoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lng" yaml:"lng"`
}

// Route is an ordered, non-empty sequence of waypoints. A Route is never
// mutated after construction; Reversed returns a new value.
type Route struct {
	points []Waypoint
}

// NewRoute copies points into a new Route.
func NewRoute(points []Waypoint) (Route, error) {
	if len(points) == 0 {
		return Route{}, ErrEmptyRoute
	}
	cp := make([]Waypoint, len(points))
	copy(cp, points)
	return Route{points: cp}, nil
}

// Len returns the number of waypoints.
func (r Route) Len() int { return len(r.points) }

// At returns the i-th waypoint.
func (r Route) At(i int) Waypoint { return r.points[i] }

// First returns the first waypoint.
func (r Route) First() Waypoint { return r.points[0] }

// Last returns the last waypoint.
func (r Route) Last() Waypoint { return r.points[len(r.points)-1] }

// Points returns a copy of the waypoints.
func (r Route) Points() []Waypoint {
	cp := make([]Waypoint, len(r.points))
	copy(cp, r.points)
	return cp
}

// Reversed returns the route with waypoint order inverted.
func (r Route) Reversed() Route {
	n := len(r.points)
	rev := make([]Waypoint, n)
	for i, p := range r.points {
		rev[n-1-i] = p
	}
	return Route{points: rev}
}

// LengthMeters returns the great-circle length of the path.
func (r Route) LengthMeters() float64 {
	if len(r.points) < 2 {
		return 0
	}
	segments := make([]float64, len(r.points)-1)
	for i := 1; i < len(r.points); i++ {
		segments[i-1] = Haversine(r.points[i-1], r.points[i])
	}
	return floats.Sum(segments)
}

// Bounds returns the south-west and north-east corners of the route.
func (r Route) Bounds() (sw, ne Waypoint) {
	sw, ne = r.points[0], r.points[0]
	for _, p := range r.points[1:] {
		sw.Lat = math.Min(sw.Lat, p.Lat)
		sw.Lon = math.Min(sw.Lon, p.Lon)
		ne.Lat = math.Max(ne.Lat, p.Lat)
		ne.Lon = math.Max(ne.Lon, p.Lon)
	}
	return sw, ne
}

// Haversine returns the distance in meters between two waypoints.
func Haversine(a, b Waypoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
