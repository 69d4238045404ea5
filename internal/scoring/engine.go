// Package scoring implements the attendance integrity engine.
//
// Architecture:
//
//	The engine is stateless with respect to attempts: every piece of history
//	(recent attempts, device records, location trail, prior photo hashes) is
//	supplied by the caller in the request, and the verdict is returned for the
//	caller to persist. Validate therefore never counts the current attempt
//	against itself and is safe to call from many goroutines at once.
//
// Pipeline:
//
//	Each check fills its part of the result and contributes one FraudSignal:
//	  1. Location  geofence, accuracy, spoofing heuristics, network cross check
//	  2. Device    fingerprint trust, device limit, device switching
//	  3. Time      window and grace period, clock drift and manipulation
//	  4. Photo     quality, subject, manipulation, duplicates
//	  5. Behavior  cross-attempt patterns over the supplied history
//	The signals are aggregated into a FraudScore; alerts are generated last.
//
// Settings are swapped atomically; a call in flight keeps the settings it
// started with.
package scoring

import (
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/device"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/geo"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/photo"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/risk"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/timewindow"
)

// Errors returned when the engine cannot score at all.
var (
	ErrMissingRequest    = errors.New("check-in request is required")
	ErrMissingSession    = errors.New("session configuration is required")
	ErrInvalidGeofence   = errors.New("session geofence is invalid")
	ErrInvalidTimeWindow = errors.New("session time window is invalid")
)

// Settings are the thresholds of every validator.
type Settings struct {
	Geo      geo.Config         `json:"geo" toml:"geo" yaml:"geo"`
	Device   device.Config      `json:"device" toml:"device" yaml:"device"`
	Time     timewindow.Config  `json:"time" toml:"time" yaml:"time"`
	Photo    photo.Config       `json:"photo" toml:"photo" yaml:"photo"`
	Patterns risk.PatternConfig `json:"patterns" toml:"patterns" yaml:"patterns"`
}

// DefaultSettings returns the production thresholds.
func DefaultSettings() Settings {
	return Settings{
		Geo:      geo.DefaultConfig(),
		Device:   device.DefaultConfig(),
		Time:     timewindow.DefaultConfig(),
		Photo:    photo.DefaultConfig(),
		Patterns: risk.DefaultPatternConfig(),
	}
}

// validators is one immutable generation of validators built from Settings.
type validators struct {
	settings Settings
	geo      *geo.Validator
	device   *device.Tracker
	time     *timewindow.Validator
	photo    *photo.Checker
}

// Engine is safe for concurrent use.
type Engine struct {
	current   atomic.Pointer[validators]
	offset    *timewindow.Offset
	photoOpts []photo.Option
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used when a request carries no receive time.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithOffset shares a calibrated server/client clock offset with the engine.
func WithOffset(o *timewindow.Offset) Option { return func(e *Engine) { e.offset = o } }

// WithPhotoOptions plugs alternative photo scorers into the checker.
func WithPhotoOptions(opts ...photo.Option) Option {
	return func(e *Engine) { e.photoOpts = append(e.photoOpts, opts...) }
}

// New creates an engine with the given settings.
func New(s Settings, opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.offset == nil {
		e.offset = &timewindow.Offset{}
	}
	e.UpdateSettings(s)
	return e
}

// Settings returns the settings currently in effect.
func (e *Engine) Settings() Settings { return e.current.Load().settings }

// Offset returns the clock offset holder read by the time validator.
func (e *Engine) Offset() *timewindow.Offset { return e.offset }

// UpdateSettings replaces the validators used by subsequent calls.
func (e *Engine) UpdateSettings(s Settings) {
	e.current.Store(&validators{
		settings: s,
		geo:      geo.NewValidator(s.Geo),
		device:   device.NewTracker(s.Device),
		time:     timewindow.NewValidator(s.Time, e.offset),
		photo:    photo.NewChecker(s.Photo, e.photoOpts...),
	})
}

// ─── Public API ───────────────────────────────────────────────────────────────

// Validate scores one check-in attempt against its session. It returns an
// error only when the session or request is missing or unusable; every other
// problem is reported in the result.
func (e *Engine) Validate(req *domain.CheckInRequest, session *domain.SessionConfig) (domain.SecurityValidationResult, error) {
	if req == nil {
		return domain.SecurityValidationResult{}, ErrMissingRequest
	}
	if session == nil {
		return domain.SecurityValidationResult{}, ErrMissingSession
	}
	if err := CheckSession(*session); err != nil {
		return domain.SecurityValidationResult{}, err
	}

	ctx := e.buildContext(req, session, EffectivePolicy(session.Policy))

	checks := []func(*checkContext) domain.FraudSignal{
		checkLocation,
		checkDevice,
		checkTime,
		checkPhoto,
		checkBehavior,
	}
	for _, check := range checks {
		ctx.signals = append(ctx.signals, check(ctx))
	}

	return ctx.finish(), nil
}

// ─── Check context ────────────────────────────────────────────────────────────

// checkContext carries one attempt through the pipeline so each check sees
// the results of the ones before it.
type checkContext struct {
	v        *validators
	req      *domain.CheckInRequest
	session  *domain.SessionConfig
	policy   domain.SecurityPolicy
	received time.Time

	fingerprint *domain.DeviceFingerprint
	signals     []domain.FraudSignal
	res         domain.SecurityValidationResult
}

func (e *Engine) buildContext(req *domain.CheckInRequest, session *domain.SessionConfig, policy domain.SecurityPolicy) *checkContext {
	received := req.ReceivedAt
	if received.IsZero() {
		received = e.now().UTC()
	}
	return &checkContext{
		v:        e.current.Load(),
		req:      req,
		session:  session,
		policy:   policy,
		received: received,
	}
}

// ─── Checks ───────────────────────────────────────────────────────────────────

func checkLocation(c *checkContext) domain.FraudSignal {
	if c.req.Location == nil {
		return risk.LocationSignal(nil, c.policy.RequireLocation)
	}
	res := c.v.geo.ValidateLocation(*c.req.Location, c.session.Geofence, c.req.LocationHistory)
	if n := c.req.NetworkLocation; n != nil {
		d, warning := c.v.geo.CompareNetworkLocation(*c.req.Location, *n)
		res.NetworkDistance = &d
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
	}
	c.res.Location = &res
	return risk.LocationSignal(&res, c.policy.RequireLocation)
}

func checkDevice(c *checkContext) domain.FraudSignal {
	if c.req.Device == nil {
		return risk.DeviceSignal(nil, c.policy.RequireDeviceCheck)
	}
	signals := *c.req.Device
	if signals.Timestamp.IsZero() {
		signals.Timestamp = c.received
	}
	fp := device.GenerateFingerprint(signals)
	c.fingerprint = &fp

	res := c.v.device.ValidateDevice(fp, c.req.DeviceHistory, c.policy.MaxDevicesPerUser, c.received)
	c.res.Device = &res

	var trail []domain.DeviceFingerprint
	for _, a := range c.req.RecentAttempts {
		if a.Fingerprint != nil && (a.StudentID == "" || a.StudentID == c.req.StudentID) {
			trail = append(trail, *a.Fingerprint)
		}
	}
	if len(trail) > 0 {
		slices.SortFunc(trail, func(a, b domain.DeviceFingerprint) int { return a.Timestamp.Compare(b.Timestamp) })
		sharing := c.v.device.DetectDeviceSharing(append(trail, fp), c.v.settings.Device.SharingWindow)
		c.res.Sharing = &sharing
	}
	return risk.DeviceSignal(&res, c.policy.RequireDeviceCheck)
}

func checkTime(c *checkContext) domain.FraudSignal {
	w := c.session.Window
	clientZone := c.req.ClientTimezone
	if clientZone == "" && c.req.Device != nil {
		clientZone = c.req.Device.Timezone
	}
	zones := timewindow.Zones{Session: c.session.Timezone, Client: clientZone}
	if c.req.NetworkLocation != nil {
		zones.Network = c.req.NetworkLocation.Timezone
	}

	client := c.req.ClientTimestamp
	if client.IsZero() {
		client = c.received
	}
	grace := w.GracePeriodMinutes
	if grace <= 0 {
		grace = c.policy.GracePeriodMinutes
	}
	c.res.Time = c.v.time.ValidateTimeWindow(client, w.ValidFrom, w.ValidTo, grace, zones)

	var prior []time.Time
	for _, a := range c.req.RecentAttempts {
		if !a.ClientTimestamp.IsZero() && (a.StudentID == "" || a.StudentID == c.req.StudentID) {
			prior = append(prior, a.ClientTimestamp)
		}
	}
	c.res.Manipulation = c.v.time.DetectTimeManipulation(client, c.received, prior)
	return risk.TimeSignal(c.res.Time, c.res.Manipulation, c.v.settings.Time.MaxDrift)
}

func checkPhoto(c *checkContext) domain.FraudSignal {
	if c.req.Photo == nil {
		return risk.PhotoSignal(nil, c.policy.RequirePhoto)
	}
	res := c.v.photo.ValidatePhoto(*c.req.Photo, c.policy.RequireFace)
	if photo.IsDuplicatePhoto(res.Hash, c.req.PriorPhotoHashes) {
		res.IsDuplicate = true
		res.Errors = append(res.Errors, "photo was already submitted in this session")
		res.IsValid = false
	}
	c.res.Photo = &res
	return risk.PhotoSignal(&res, c.policy.RequirePhoto)
}

func checkBehavior(c *checkContext) domain.FraudSignal {
	cfg := c.v.settings.Patterns
	cur := risk.Attempt{StudentID: c.req.StudentID, IPAddress: c.req.IPAddress, At: c.received}
	if c.fingerprint != nil {
		cur.DeviceID = c.fingerprint.ID
	}

	var patterns []domain.PatternResult
	add := func(p domain.PatternResult, ok bool) {
		if ok {
			patterns = append(patterns, p)
		}
	}
	add(risk.DetectRapidAttempts(cur, c.req.RecentAttempts, cfg))
	add(risk.DetectCoordinatedDevice(cur, c.req.SessionAttempts, cfg))
	add(risk.DetectCoordinatedIP(cur, c.req.SessionAttempts, cfg))
	if c.res.Sharing != nil {
		add(risk.SharingPattern(*c.res.Sharing, c.req.StudentID))
	}
	add(risk.ManipulationPattern(c.res.Manipulation, c.req.StudentID))
	add(risk.DuplicatePhotoPattern(c.res.Photo, c.req.StudentID))

	c.res.Patterns = patterns
	return risk.BehaviorSignal(patterns)
}

// ─── Aggregation ──────────────────────────────────────────────────────────────

func (c *checkContext) finish() domain.SecurityValidationResult {
	res := c.res
	res.FraudScore = risk.Aggregate(c.signals, c.policy.Weights, c.policy.Thresholds)
	res.Warnings = []string{}
	res.Errors = []string{}
	for _, s := range c.signals {
		res.Warnings = append(res.Warnings, s.Warnings...)
		res.Errors = append(res.Errors, s.Errors...)
	}
	res.IsValid = len(res.Errors) == 0
	res.EvaluatedAt = c.received

	res.Attempt = domain.ScoredAttempt{
		ID:              "att_" + uuid.NewString(),
		StudentID:       c.req.StudentID,
		SessionID:       c.req.SessionID,
		Timestamp:       c.received,
		ClientTimestamp: c.req.ClientTimestamp,
		Score:           res.FraudScore.Overall,
		RiskLevel:       res.FraudScore.RiskLevel,
		IsValid:         res.IsValid,
		IPAddress:       c.req.IPAddress,
		Fingerprint:     c.fingerprint,
		Location:        c.req.Location,
	}
	if c.fingerprint != nil {
		res.Attempt.DeviceID = c.fingerprint.ID
	}
	if res.Photo != nil {
		res.Attempt.PhotoHash = res.Photo.Hash
	}

	var scores []float64
	for _, a := range c.req.RecentAttempts {
		scores = append(scores, a.Score)
	}
	res.Alerts = risk.GenerateAlerts(risk.AlertInput{
		StudentID:     c.req.StudentID,
		SessionID:     c.req.SessionID,
		AttemptID:     res.Attempt.ID,
		IPAddress:     c.req.IPAddress,
		Sample:        c.req.Location,
		Location:      res.Location,
		Device:        res.Device,
		Sharing:       res.Sharing,
		Time:          res.Time,
		Manipulation:  res.Manipulation,
		ClientTime:    c.req.ClientTimestamp,
		Patterns:      res.Patterns,
		Signals:       c.signals,
		MaxDevices:    c.policy.MaxDevicesPerUser,
		PatternWindow: c.v.settings.Patterns.SessionWindow,
		RecentScores:  scores,
	}, res.FraudScore, c.policy.AlertThreshold, c.received)
	return res
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// CheckSession reports whether the engine can validate against session. The
// geofence only matters when the effective policy requires a location.
func CheckSession(session domain.SessionConfig) error {
	if EffectivePolicy(session.Policy).RequireLocation && !validGeofence(session.Geofence) {
		return ErrInvalidGeofence
	}
	w := session.Window
	if w.ValidFrom.IsZero() || w.ValidTo.IsZero() || w.ValidTo.Before(w.ValidFrom) {
		return ErrInvalidTimeWindow
	}
	return nil
}

// EffectivePolicy falls back to the default policy when the session sets none.
func EffectivePolicy(p domain.SecurityPolicy) domain.SecurityPolicy {
	if p == (domain.SecurityPolicy{}) {
		return domain.DefaultSecurityPolicy()
	}
	if p.Weights.Sum() <= 0 {
		p.Weights = domain.DefaultSecurityPolicy().Weights
	}
	if p.Thresholds == (domain.RiskThresholds{}) {
		p.Thresholds = domain.DefaultSecurityPolicy().Thresholds
	}
	return p
}

func validGeofence(f domain.Geofence) bool {
	return f.Radius > 0 && geo.ValidCoordinates(f.Center)
}
