package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	corelogger "github.com/kilianp07/routesim/core/logger"
	coremetrics "github.com/kilianp07/routesim/core/metrics"
	"github.com/kilianp07/routesim/infra/logger"
)

// InfluxSink writes simulator activity to InfluxDB using the official
// client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      corelogger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordPosition writes a vehicle_position point.
func (s *InfluxSink) RecordPosition(rec coremetrics.PositionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev := rec.Event
	p := write.NewPointWithMeasurement("vehicle_position").
		AddTag("vehicle_id", strconv.FormatInt(ev.VehicleID, 10)).
		AddTag("event_type", ev.Type.String()).
		AddTag("direction", ev.Direction.String()).
		AddTag("run_id", rec.RunID).
		AddField("lat", ev.Lat).
		AddField("lon", ev.Lon).
		AddField("leg", rec.Leg).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordLeg writes a leg_completed point.
func (s *InfluxSink) RecordLeg(rec coremetrics.LegRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("leg_completed").
		AddTag("vehicle_id", strconv.FormatInt(rec.VehicleID, 10)).
		AddTag("direction", rec.Direction.String()).
		AddTag("run_id", rec.RunID).
		AddField("leg", rec.Leg).
		AddField("waypoints", rec.Waypoints).
		AddField("duration_ms", rec.Duration.Milliseconds()).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordNotification writes a notification_outcome point.
func (s *InfluxSink) RecordNotification(rec coremetrics.NotificationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("notification_outcome").
		AddTag("vehicle_id", strconv.FormatInt(rec.VehicleID, 10)).
		AddTag("stage", rec.Stage).
		AddTag("success", strconv.FormatBool(rec.Success)).
		AddTag("run_id", rec.RunID).
		AddField("count", rec.Count).
		AddField("status_code", rec.StatusCode).
		SetTime(rec.Time)
	if rec.Error != "" {
		p = p.AddField("error", rec.Error)
	}
	return s.writeAPI.WritePoint(ctx, p)
}
