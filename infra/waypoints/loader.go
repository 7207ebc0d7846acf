// Package waypoints loads routes from JSON, YAML, encoded polyline or GTFS
// static feeds.
package waypoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jamespfennell/gtfs"
	"github.com/twpayne/go-polyline"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/routesim/core/model"
)

var (
	// ErrEmptySource is returned when a source holds no waypoint.
	ErrEmptySource = errors.New("waypoint source is empty")
	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported waypoint format")
	// ErrShapeNotFound is returned when a GTFS feed lacks the requested shape.
	ErrShapeNotFound = errors.New("shape not found")
)

// LoadError reports a failed load. Index is the offending record or -1 when
// the failure is not tied to a record.
type LoadError struct {
	Source string
	Index  int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("load waypoints from %s: record %d: %v", e.Source, e.Index, e.Err)
	}
	return fmt.Sprintf("load waypoints from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// record is one waypoint as written in JSON or YAML files. Pointers tell a
// missing coordinate apart from zero.
type record struct {
	Lat *float64 `json:"lat" yaml:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" yaml:"lng" validate:"required,gte=-180,lte=180"`
}

var validate = validator.New()

// Load reads the route at source. The format is chosen by extension:
// .json, .yaml/.yml, .polyline/.txt and .zip for GTFS static feeds, where an
// optional "#shape_id" suffix selects the shape.
func Load(source string) (model.Route, error) {
	path, fragment := splitShape(source)
	ext := strings.ToLower(filepath.Ext(path))

	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Route{}, &LoadError{Source: source, Index: -1, Err: err}
	}
	var pts []model.Waypoint
	switch ext {
	case ".json":
		pts, err = decodeJSON(raw)
	case ".yaml", ".yml":
		pts, err = decodeYAML(raw)
	case ".polyline", ".txt":
		pts, err = decodePolyline(raw)
	case ".zip":
		pts, err = decodeGTFS(raw, fragment)
	default:
		err = fmt.Errorf("%w %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Source = source
			return model.Route{}, le
		}
		return model.Route{}, &LoadError{Source: source, Index: -1, Err: err}
	}
	return newRoute(source, pts)
}

// splitShape separates a "#shape_id" suffix from a GTFS zip source. Other
// sources are returned whole, so their paths may contain '#'.
func splitShape(source string) (path, shapeID string) {
	i := strings.LastIndex(source, "#")
	if i < 0 || !strings.EqualFold(filepath.Ext(source[:i]), ".zip") {
		return source, ""
	}
	return source[:i], source[i+1:]
}

// Parse decodes JSON or YAML waypoint records from raw bytes. format is
// "json" or "yaml".
func Parse(raw []byte, format string) (model.Route, error) {
	var (
		pts []model.Waypoint
		err error
	)
	switch strings.ToLower(format) {
	case "json":
		pts, err = decodeJSON(raw)
	case "yaml", "yml":
		pts, err = decodeYAML(raw)
	default:
		err = fmt.Errorf("%w %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Source = format
			return model.Route{}, le
		}
		return model.Route{}, &LoadError{Source: format, Index: -1, Err: err}
	}
	return newRoute(format, pts)
}

func newRoute(source string, pts []model.Waypoint) (model.Route, error) {
	if len(pts) == 0 {
		return model.Route{}, &LoadError{Source: source, Index: -1, Err: ErrEmptySource}
	}
	r, err := model.NewRoute(pts)
	if err != nil {
		return model.Route{}, &LoadError{Source: source, Index: -1, Err: err}
	}
	return r, nil
}

func decodeJSON(raw []byte) ([]model.Waypoint, error) {
	var recs []record
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return fromRecords(recs)
}

func decodeYAML(raw []byte) ([]model.Waypoint, error) {
	var recs []record
	if err := yaml.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return fromRecords(recs)
}

func fromRecords(recs []record) ([]model.Waypoint, error) {
	pts := make([]model.Waypoint, 0, len(recs))
	for i, r := range recs {
		if err := validate.Struct(r); err != nil {
			return nil, &LoadError{Index: i, Err: fieldError(err)}
		}
		pts = append(pts, model.Waypoint{Lat: *r.Lat, Lon: *r.Lng})
	}
	return pts, nil
}

// fieldError turns validator output into "missing lng" style messages.
func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := strings.ToLower(fe.Field())
	if name == "lng" || name == "lat" {
		if fe.Tag() == "required" {
			return fmt.Errorf("missing %s", name)
		}
		return fmt.Errorf("%s out of range: %v", name, fe.Value())
	}
	return err
}

func decodePolyline(raw []byte) ([]model.Waypoint, error) {
	enc := bytes.TrimSpace(raw)
	if len(enc) == 0 {
		return nil, nil
	}
	coords, rest, err := polyline.DecodeCoords(enc)
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	pts := make([]model.Waypoint, len(coords))
	for i, c := range coords {
		pts[i] = model.Waypoint{Lat: c[0], Lon: c[1]}
	}
	return pts, nil
}

func decodeGTFS(raw []byte, shapeID string) ([]model.Waypoint, error) {
	static, err := gtfs.ParseStatic(raw, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	if len(static.Shapes) == 0 {
		return nil, nil
	}
	if shapeID == "" {
		if len(static.Shapes) > 1 {
			return nil, fmt.Errorf("feed has %d shapes, select one with #shape_id", len(static.Shapes))
		}
		shapeID = static.Shapes[0].ID
	}
	for _, shape := range static.Shapes {
		if shape.ID != shapeID {
			continue
		}
		pts := make([]model.Waypoint, len(shape.Points))
		for i, p := range shape.Points {
			pts[i] = model.Waypoint{Lat: p.Latitude, Lon: p.Longitude}
		}
		return pts, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, shapeID)
}
