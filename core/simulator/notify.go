package simulator

import (
	"bytes"
	"context"
	"errors"
	"text/template"

	"github.com/kilianp07/routesim/core/journal"
	"github.com/kilianp07/routesim/core/metrics"
	"github.com/kilianp07/routesim/core/model"
	"github.com/kilianp07/routesim/core/notify"
)

// notify runs the notification cycle of LegStart. Failures are logged and
// recorded; they never stop the leg.
func (s *Simulator) notify(ctx context.Context) {
	if s.gateway == nil || s.push == nil {
		return
	}
	notes, err := s.gateway.FetchPending(ctx, s.cfg.VehicleID)
	s.recordNotification(ctx, journal.KindFetch, metrics.NotificationRecord{
		Stage:   metrics.StageFetch,
		Success: err == nil,
		Count:   len(notes),
		Error:   errString(err),
	})
	if err != nil {
		s.log.Errorf("leg %d: %v", s.leg, err)
		return
	}
	s.log.Infof("leg %d: %d pending notifications for vehicle %d", s.leg, len(notes), s.cfg.VehicleID)
	if len(notes) == 0 {
		return
	}

	data := TemplateData{VehicleID: s.cfg.VehicleID, Direction: s.direction.String(), Leg: s.leg}
	title, err := render(s.title, data)
	if err != nil {
		s.log.Errorf("leg %d: render push title: %v", s.leg, err)
		return
	}
	body, err := render(s.body, data)
	if err != nil {
		s.log.Errorf("leg %d: render push body: %v", s.leg, err)
		return
	}

	for _, n := range notes {
		if ctx.Err() != nil {
			return
		}
		msg := model.PushMessage{
			Token: n.PushToken,
			Title: title,
			Body:  body,
			Data:  map[string]any{"direction": s.direction.String()},
		}
		res, err := s.push.Dispatch(ctx, msg)
		rec := metrics.NotificationRecord{
			Stage:      metrics.StagePush,
			Success:    err == nil,
			Count:      1,
			StatusCode: res.StatusCode,
			Error:      errString(err),
		}
		var de *notify.DeliveryError
		if errors.As(err, &de) && rec.StatusCode == 0 {
			rec.StatusCode = de.StatusCode
		}
		s.recordNotification(ctx, journal.KindPush, rec)
		if res.BodyErr != nil {
			s.log.Warnf("leg %d: %v", s.leg, res.BodyErr)
		}
		if err != nil {
			s.log.Warnf("leg %d: %v", s.leg, err)
			continue
		}
		s.log.Debugf("leg %d: push sent to %s", s.leg, n.PushToken)
	}
}

func (s *Simulator) recordNotification(ctx context.Context, kind journal.Kind, rec metrics.NotificationRecord) {
	now := s.now()
	rec.RunID = s.cfg.RunID
	rec.Leg = s.leg
	rec.VehicleID = s.cfg.VehicleID
	rec.Time = now
	if nr, ok := s.sink.(metrics.NotificationRecorder); ok {
		if err := nr.RecordNotification(rec); err != nil {
			s.log.Warnf("record notification: %v", err)
		}
	}
	s.appendJournal(ctx, journal.Record{
		Timestamp: now,
		RunID:     s.cfg.RunID,
		Leg:       s.leg,
		Kind:      kind,
		VehicleID: s.cfg.VehicleID,
		Direction: s.direction.String(),
		Success:   rec.Success,
		Detail:    rec.Error,
	})
}

func render(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
