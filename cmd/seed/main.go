// Command seed generates a realistic check-in dataset for one lecture session,
// replays it through an in-memory engine and writes it to data/seed.json.
//
// Usage:
//
//	go run ./cmd/seed [-out data/seed.json] [-target http://localhost:8080]
//
// With -target the session and every check-in are also posted to a running
// server, with client timestamps shifted to the moment of sending.
//
// The dataset mixes:
//   - ordinary students on their own devices inside the geofence
//   - GPS spoofers (far away, implausibly precise or teleporting)
//   - pairs of students sharing one device
//   - students with tampered clocks
//   - a group checking in from one outside IP
//   - a student hammering the endpoint and a duplicated photo
package main

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"
	_ "time/tzdata"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/checkin"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/scoring"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
)

// campus is the lecture hall the session geofence is centred on.
var campus = domain.Coordinates{Latitude: 30.0262, Longitude: 31.2105}

const sessionID = "ses_seed_cs101"

// seedCheckIn is one generated attempt. At is relative to the window start;
// ClockSkew is added to the receive time to get the client timestamp.
type seedCheckIn struct {
	Label          string                  `json:"label"`
	StudentID      string                  `json:"student_id"`
	IPAddress      string                  `json:"ip_address"`
	At             time.Duration           `json:"at"`
	ClockSkew      time.Duration           `json:"clock_skew,omitempty"`
	ClientTimezone string                  `json:"client_timezone,omitempty"`
	Location       *domain.LocationSample  `json:"location,omitempty"`
	Device         *domain.DeviceSignals   `json:"device,omitempty"`
	Photo          *domain.PhotoSubmission `json:"photo,omitempty"`
}

type dataset struct {
	Session  domain.SessionConfig `json:"session"`
	CheckIns []seedCheckIn        `json:"checkins"`
}

func main() {
	out := flag.String("out", "data/seed.json", "output file")
	target := flag.String("target", "", "base URL of a running server to post the dataset to")
	flag.Parse()

	rng := rand.New(rand.NewSource(42)) // deterministic seed for reproducibility
	start := time.Now().UTC().Truncate(time.Minute).Add(-40 * time.Minute)

	ds := dataset{Session: session(start)}
	ds.CheckIns = append(ds.CheckIns, generateRegularStudents(rng)...)
	ds.CheckIns = append(ds.CheckIns, generateSpoofers(rng)...)
	ds.CheckIns = append(ds.CheckIns, generateSharedDevices(rng)...)
	ds.CheckIns = append(ds.CheckIns, generateClockTamperers(rng)...)
	ds.CheckIns = append(ds.CheckIns, generateOffCampusGroup(rng)...)
	ds.CheckIns = append(ds.CheckIns, generateRapidAndDuplicatePhoto(rng)...)

	// Replay in time order so history-based detectors see what they would live.
	slices.SortStableFunc(ds.CheckIns, func(a, b seedCheckIn) int { return cmp.Compare(a.At, b.At) })

	if err := write(*out, ds); err != nil {
		fmt.Fprintf(os.Stderr, "write error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d check-ins → %s\n", len(ds.CheckIns), *out)

	if err := replay(ds, start); err != nil {
		fmt.Fprintf(os.Stderr, "replay error: %v\n", err)
		os.Exit(1)
	}

	if *target != "" {
		if err := post(*target, ds); err != nil {
			fmt.Fprintf(os.Stderr, "post error: %v\n", err)
			os.Exit(1)
		}
	}
}

func session(start time.Time) domain.SessionConfig {
	return domain.SessionConfig{
		ID:       sessionID,
		Name:     "CS101 Data Structures, Hall B",
		Geofence: domain.Geofence{Center: campus, Radius: 80},
		Window: domain.TimeWindow{
			ValidFrom:          start,
			ValidTo:            start.Add(90 * time.Minute),
			GracePeriodMinutes: 10,
		},
		Timezone: "Africa/Cairo",
		Policy:   domain.DefaultSecurityPolicy(),
	}
}

// ─── Regular students ─────────────────────────────────────────────────────────

func generateRegularStudents(rng *rand.Rand) []seedCheckIn {
	var out []seedCheckIn
	for i := range 30 {
		id := fmt.Sprintf("stu_%03d", 100+i)
		out = append(out, seedCheckIn{
			Label:          "regular",
			StudentID:      id,
			IPAddress:      fmt.Sprintf("10.20.%d.%d", rng.Intn(4), 10+rng.Intn(200)),
			At:             jitter(rng, 2*time.Minute, 25*time.Minute),
			ClientTimezone: "Africa/Cairo",
			Location:       near(rng, 45, 8+rng.Float64()*20),
			Device:         device(i),
		})
	}
	return out
}

// ─── GPS spoofers ─────────────────────────────────────────────────────────────

func generateSpoofers(rng *rand.Rand) []seedCheckIn {
	far := &domain.LocationSample{Latitude: 29.9792, Longitude: 31.1342, Accuracy: 12} // Giza, ~9 km away
	perfect := &domain.LocationSample{Latitude: campus.Latitude, Longitude: campus.Longitude, Accuracy: 1}
	speed := 140.0
	fast := near(rng, 20, 10)
	fast.Speed = &speed

	out := []seedCheckIn{
		{Label: "spoof_far", StudentID: "stu_900", IPAddress: "156.204.11.9", At: 6 * time.Minute, Location: far, Device: device(900)},
		{Label: "spoof_perfect", StudentID: "stu_901", IPAddress: "10.20.1.77", At: 8 * time.Minute, Location: perfect, Device: device(901)},
		{Label: "spoof_speed", StudentID: "stu_902", IPAddress: "10.20.2.61", At: 9 * time.Minute, Location: fast, Device: device(902)},
	}

	// Teleport: Alexandria, then the lecture hall four minutes later.
	alex := &domain.LocationSample{Latitude: 31.2001, Longitude: 29.9187, Accuracy: 15}
	out = append(out,
		seedCheckIn{Label: "teleport", StudentID: "stu_903", IPAddress: "41.38.2.14", At: 10 * time.Minute, Location: alex, Device: device(903)},
		seedCheckIn{Label: "teleport", StudentID: "stu_903", IPAddress: "10.20.3.8", At: 14 * time.Minute, Location: near(rng, 30, 12), Device: device(903)},
	)
	return out
}

// ─── Shared devices ───────────────────────────────────────────────────────────

func generateSharedDevices(rng *rand.Rand) []seedCheckIn {
	var out []seedCheckIn
	for pair := range 2 {
		shared := device(800 + pair)
		for j := range 2 {
			out = append(out, seedCheckIn{
				Label:          "shared_device",
				StudentID:      fmt.Sprintf("stu_%d%d", 80+pair, j),
				IPAddress:      "10.20.0.44",
				At:             time.Duration(12+pair*5+j*2) * time.Minute,
				ClientTimezone: "Africa/Cairo",
				Location:       near(rng, 30, 14),
				Device:         shared,
			})
		}
	}
	return out
}

// ─── Clock tampering ──────────────────────────────────────────────────────────

func generateClockTamperers(rng *rand.Rand) []seedCheckIn {
	return []seedCheckIn{
		{Label: "clock_ahead", StudentID: "stu_700", IPAddress: "10.20.1.19", At: 20 * time.Minute, ClockSkew: 2 * time.Hour, Location: near(rng, 40, 15), Device: device(700)},
		{Label: "clock_behind", StudentID: "stu_701", IPAddress: "10.20.2.23", At: 22 * time.Minute, ClockSkew: -45 * time.Minute, Location: near(rng, 40, 15), Device: device(701)},
		{Label: "zone_mismatch", StudentID: "stu_702", IPAddress: "10.20.3.31", At: 23 * time.Minute, ClientTimezone: "America/New_York", Location: near(rng, 40, 15), Device: device(702)},
	}
}

// ─── Shared IP group ──────────────────────────────────────────────────────────

func generateOffCampusGroup(rng *rand.Rand) []seedCheckIn {
	var out []seedCheckIn
	for i := range 6 {
		out = append(out, seedCheckIn{
			Label:     "coordinated_ip",
			StudentID: fmt.Sprintf("stu_6%02d", i),
			IPAddress: "197.35.88.4",
			At:        30*time.Minute + time.Duration(rng.Intn(240))*time.Second,
			Location:  near(rng, 50, 20),
			Device:    device(600 + i),
		})
	}
	return out
}

// ─── Rapid attempts and duplicate photo ──────────────────────────────────────

func generateRapidAndDuplicatePhoto(rng *rand.Rand) []seedCheckIn {
	var out []seedCheckIn
	dev := device(500)
	for i := range 4 {
		out = append(out, seedCheckIn{
			Label:     "rapid",
			StudentID: "stu_500",
			IPAddress: "10.20.0.91",
			At:        35*time.Minute + time.Duration(i*40)*time.Second,
			Location:  near(rng, 35, 12),
			Device:    dev,
		})
	}

	img := photo()
	for i := range 2 {
		out = append(out, seedCheckIn{
			Label:     "duplicate_photo",
			StudentID: fmt.Sprintf("stu_51%d", i),
			IPAddress: fmt.Sprintf("10.20.1.%d", 120+i),
			At:        time.Duration(40+i) * time.Minute,
			Location:  near(rng, 35, 12),
			Device:    device(510 + i),
			Photo:     &domain.PhotoSubmission{Data: img, Format: "png", Width: 64, Height: 64, Size: int64(len(img))},
		})
	}
	return out
}

// ─── Generators ───────────────────────────────────────────────────────────────

// near returns a sample within radius metres of the campus centre.
func near(rng *rand.Rand, radius, accuracy float64) *domain.LocationSample {
	const metresPerDegree = 111_320.0
	dLat := (rng.Float64()*2 - 1) * radius / metresPerDegree / 1.5
	dLon := (rng.Float64()*2 - 1) * radius / metresPerDegree / 1.5
	return &domain.LocationSample{
		Latitude:  campus.Latitude + dLat,
		Longitude: campus.Longitude + dLon,
		Accuracy:  accuracy,
	}
}

var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Mozilla/5.0 (Linux; Android 14; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0 Mobile Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
	}
	platforms = []string{"Win32", "MacIntel", "Linux armv8l", "iPhone"}
	gpus      = []string{"ANGLE (NVIDIA GeForce RTX 3060)", "Apple M2", "Adreno (TM) 740", "Apple GPU", "Intel(R) UHD Graphics 620"}
	fontSets  = [][]string{
		{"Arial", "Calibri", "Segoe UI", "Tahoma"},
		{"Helvetica Neue", "Menlo", "SF Pro"},
		{"Roboto", "Noto Sans", "Noto Naskh Arabic"},
	}
)

// device builds stable signals for seed n; equal n yields equal signals.
func device(n int) *domain.DeviceSignals {
	r := rand.New(rand.NewSource(int64(n) * 7919))
	kind := r.Intn(len(userAgents))
	return &domain.DeviceSignals{
		UserAgent: userAgents[kind],
		Screen:    domain.ScreenInfo{Width: 360 + r.Intn(1600), Height: 640 + r.Intn(800), ColorDepth: 24},
		Hardware:  domain.HardwareInfo{Cores: 2 << r.Intn(3), MemoryGB: float64(int(4) << r.Intn(3)), PixelRatio: float64(1 + r.Intn(3))},
		Locale:    []string{"ar-EG", "en-US", "en-GB"}[r.Intn(3)],
		Platform:  platforms[kind],
		Timezone:  "Africa/Cairo",
		Canvas:    fmt.Sprintf("cv-%08x", r.Uint32()),
		WebGL:     gpus[r.Intn(len(gpus))],
		Audio:     fmt.Sprintf("%.14f", 124+r.Float64()),
		Fonts:     fontSets[r.Intn(len(fontSets))],
	}
}

func photo() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func jitter(rng *rand.Rand, from, to time.Duration) time.Duration {
	return from + time.Duration(rng.Int63n(int64(to-from)))
}

// ─── Output ───────────────────────────────────────────────────────────────────

func write(path string, ds dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(ds)
}

func (c seedCheckIn) request(receivedAt time.Time) domain.CheckInRequest {
	r := domain.CheckInRequest{
		StudentID:       c.StudentID,
		SessionID:       sessionID,
		ClientTimestamp: receivedAt.Add(c.ClockSkew),
		ReceivedAt:      receivedAt,
		ClientTimezone:  c.ClientTimezone,
		IPAddress:       c.IPAddress,
		Device:          c.Device,
		Photo:           c.Photo,
	}
	if c.Location != nil {
		loc := *c.Location
		loc.Timestamp = receivedAt
		r.Location = &loc
	}
	return r
}

// replay scores the dataset against an in-memory service and prints a summary.
func replay(ds dataset, start time.Time) error {
	ctx := context.Background()
	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	end := start.Add(ds.CheckIns[len(ds.CheckIns)-1].At)
	svc := checkin.New(
		scoring.New(scoring.DefaultSettings()),
		store.MemoryBackends(store.NewMemory()),
		checkin.WithLogger(quiet),
		checkin.WithClock(func() time.Time { return end }),
	)
	if _, err := svc.RegisterSession(ctx, ds.Session); err != nil {
		return err
	}

	byLabel := make(map[string][2]int) // label -> {valid, invalid}
	var labels []string
	for _, c := range ds.CheckIns {
		res, err := svc.CheckIn(ctx, c.request(start.Add(c.At)))
		if err != nil {
			return fmt.Errorf("%s: %w", c.StudentID, err)
		}
		counts, seen := byLabel[c.Label]
		if !seen {
			labels = append(labels, c.Label)
		}
		if res.IsValid {
			counts[0]++
		} else {
			counts[1]++
		}
		byLabel[c.Label] = counts
	}

	rep, err := svc.Report(ctx, start.Add(-time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("\n%-16s %6s %8s\n", "scenario", "valid", "invalid")
	for _, l := range labels {
		fmt.Printf("%-16s %6d %8d\n", l, byLabel[l][0], byLabel[l][1])
	}
	fmt.Printf("\nattempts=%d invalid=%d avg_score=%.1f alerts=%d\n",
		rep.Summary.TotalAttempts, rep.Summary.InvalidAttempts, rep.Summary.AvgRiskScore, rep.Summary.TotalAlerts)
	for t, n := range rep.Summary.AlertsByType {
		fmt.Printf("  %-20s %d\n", t, n)
	}
	return nil
}

// post sends the dataset to a running server in order, back to back. The
// session window is moved around the current time.
func post(base string, ds dataset) error {
	client := &http.Client{Timeout: 10 * time.Second}
	send := func(path string, body any) (int, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		resp, err := client.Post(base+path, "application/json", bytes.NewReader(b))
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}

	now := time.Now().UTC()
	sess := ds.Session
	sess.Window.ValidFrom = now.Add(-30 * time.Minute)
	sess.Window.ValidTo = now.Add(60 * time.Minute)
	if code, err := send("/api/v1/sessions", sess); err != nil || code != http.StatusCreated {
		return fmt.Errorf("create session: status %d: %v", code, err)
	}

	var sent, failed int
	for _, c := range ds.CheckIns {
		r := c.request(time.Now().UTC())
		body := map[string]any{
			"student_id":       r.StudentID,
			"session_id":       r.SessionID,
			"client_timestamp": r.ClientTimestamp,
		}
		if r.ClientTimezone != "" {
			body["client_timezone"] = r.ClientTimezone
		}
		if r.Location != nil {
			body["location"] = r.Location
		}
		if r.Device != nil {
			body["device"] = r.Device
		}
		if r.Photo != nil {
			body["photo"] = r.Photo
		}
		code, err := send("/api/v1/checkins/validate", body)
		if err != nil || code != http.StatusOK {
			failed++
			continue
		}
		sent++
	}
	fmt.Printf("\nPosted %d check-ins to %s (%d failed)\n", sent, base, failed)
	return nil
}
