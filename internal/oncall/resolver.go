package oncall

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"fleetwatch/internal/models"
)

// ErrNoResponder means the schedule cannot produce a responder at the
// requested instant: no layers, empty responder lists, or only custom
// layers whose anchor lies in the future.
var ErrNoResponder = errors.New("no responder resolvable")

// rotationEpoch is the fixed reference all daily and weekly rotations
// count shifts from. Any fixed instant works; changing it would reshuffle
// who is on duty, so it never changes.
var rotationEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Resolution names the responder on duty and when their shift ends.
type Resolution struct {
	Responder  string    `json:"responder"`
	Until      time.Time `json:"until"`
	LayerOrder int       `json:"layer_order,omitempty"`
	Override   bool      `json:"override"`
}

// ResolveAt computes who is on duty at the given instant. Overrides win
// outright; otherwise the layer whose current shift ends soonest is
// consulted, with the lower layer_order breaking ties. The computation
// is pure: same schedule and instant, same answer.
func ResolveAt(schedule *models.OncallSchedule, now time.Time) (*Resolution, error) {
	if ov := activeOverride(schedule.Overrides, now); ov != nil {
		return &Resolution{Responder: ov.Responder, Until: ov.EndAt, Override: true}, nil
	}

	layers := make([]models.OncallLayer, len(schedule.Layers))
	copy(layers, schedule.Layers)
	sort.Slice(layers, func(i, j int) bool { return layers[i].LayerOrder < layers[j].LayerOrder })

	var best *Resolution
	for i := range layers {
		res, ok := resolveLayer(&layers[i], now)
		if !ok {
			continue
		}
		if best == nil || res.Until.Before(best.Until) {
			best = res
		}
	}
	if best == nil {
		return nil, ErrNoResponder
	}
	return best, nil
}

// activeOverride returns the override covering now, preferring the most
// recently created when several overlap.
func activeOverride(overrides []models.OncallOverride, now time.Time) *models.OncallOverride {
	var winner *models.OncallOverride
	for i := range overrides {
		ov := &overrides[i]
		if now.Before(ov.StartAt) || !now.Before(ov.EndAt) {
			continue
		}
		if winner == nil || ov.CreatedAt.After(winner.CreatedAt) {
			winner = ov
		}
	}
	return winner
}

func resolveLayer(layer *models.OncallLayer, now time.Time) (*Resolution, bool) {
	var responders []string
	if err := json.Unmarshal([]byte(layer.Responders), &responders); err != nil || len(responders) == 0 {
		return nil, false
	}

	anchor, period, ok := layerAnchor(layer)
	if !ok || now.Before(anchor) {
		return nil, false
	}

	shifts := int64(now.Sub(anchor) / period)
	idx := int(shifts % int64(len(responders)))
	until := anchor.Add(time.Duration(shifts+1) * period)

	return &Resolution{
		Responder:  responders[idx],
		Until:      until,
		LayerOrder: layer.LayerOrder,
	}, true
}

// layerAnchor returns the instant responders[0] first took over, plus
// the shift length. Daily and weekly rotations are phase-aligned to
// their handoff time on top of the fixed epoch, with shift_duration_hours
// overriding the natural one-day/one-week shift when set; custom
// rotations use their explicit anchor.
func layerAnchor(layer *models.OncallLayer) (time.Time, time.Duration, bool) {
	switch layer.Rotation {
	case models.RotationDaily:
		anchor := rotationEpoch.Add(time.Duration(layer.HandoffHour) * time.Hour)
		return anchor, shiftLength(layer, 24*time.Hour), true

	case models.RotationWeekly:
		// 2020-01-01 is a Wednesday; walk forward to the handoff day.
		daysAhead := (layer.HandoffDay - int(rotationEpoch.Weekday()) + 7) % 7
		anchor := rotationEpoch.AddDate(0, 0, daysAhead).
			Add(time.Duration(layer.HandoffHour) * time.Hour)
		return anchor, shiftLength(layer, 7*24*time.Hour), true

	case models.RotationCustom:
		if layer.AnchorAt == nil || layer.ShiftDurationHours <= 0 {
			return time.Time{}, 0, false
		}
		return *layer.AnchorAt, time.Duration(layer.ShiftDurationHours) * time.Hour, true

	default:
		return time.Time{}, 0, false
	}
}

func shiftLength(layer *models.OncallLayer, fallback time.Duration) time.Duration {
	if layer.ShiftDurationHours > 0 {
		return time.Duration(layer.ShiftDurationHours) * time.Hour
	}
	return fallback
}
