package lightmeter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ztkent/apds9960-meter/apds9960"
)

type LightMeter struct {
	*apds9960.APDS9960
	ResultsChan chan Reading
	ResultsDB   *sql.DB
	Pid         int

	mu       sync.Mutex // guards the job state below
	sampling bool
	jobGen   uint64
	cancel   context.CancelFunc
}

type Reading struct {
	Lux   float64
	Clear uint16
	Red   uint16
	Green uint16
	Blue  uint16
	JobID string
}

type Conditions struct {
	JobID                 string  `json:"jobID"`
	Lux                   float64 `json:"lux"`
	Clear                 uint16  `json:"clear"`
	Red                   uint16  `json:"red"`
	Green                 uint16  `json:"green"`
	Blue                  uint16  `json:"blue"`
	DateRange             string  `json:"dateRange"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange"`
	BrightHoursInRange    float64 `json:"brightHoursInRange"`
	LightConditionInRange string  `json:"lightConditionInRange"`
	AverageLuxInRange     float64 `json:"averageLuxInRange"`
}

const (
	MAX_JOB_DURATION = 8 * time.Hour
	RECORD_INTERVAL  = 30 * time.Second
	DB_PATH          = "lightmeter.db"
)

// Start a reading job, and collect data in a loop
func (m *LightMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		if m.sampling {
			m.mu.Unlock()
			ServeResponse(w, r, "The sensor is already started", http.StatusBadRequest)
			return
		}
		// A new context with a timeout manages the job lifecycle
		ctx, cancel := context.WithTimeout(context.Background(), MAX_JOB_DURATION)
		m.sampling = true
		m.jobGen++
		gen := m.jobGen
		m.cancel = cancel
		m.mu.Unlock()

		go m.sample(ctx, gen)
		ServeResponse(w, r, "Light Reading Started", http.StatusOK)
	}
}

func (m *LightMeter) sample(ctx context.Context, gen uint64) {
	defer func() {
		m.mu.Lock()
		// A stale job must not clear the flag for its replacement.
		if m.jobGen == gen {
			m.sampling = false
		}
		m.mu.Unlock()
	}()

	jobID := uuid.New().String()
	log.Println("Starting light reading job: " + jobID)
	ticker := time.NewTicker(RECORD_INTERVAL)
	defer ticker.Stop()
	for {
		reading, err := m.takeReading(jobID)
		if err != nil {
			log.Println(fmt.Sprintf("The sensor failed to read: %s", err.Error()))
			reading = Reading{JobID: jobID}
		}
		m.ResultsChan <- reading

		// Wait out the record interval, or bail when the job is cancelled.
		select {
		case <-ctx.Done():
			log.Println("Job cancelled, stopping readings")
			return
		case <-ticker.C:
		}
	}
}

// Read all four ALS channels and derive lux from the clear count.
func (m *LightMeter) takeReading(jobID string) (Reading, error) {
	var counts [4]uint16
	for i, ch := range apds9960.Channels() {
		count, err := m.ReadChannel(ch)
		if err != nil {
			return Reading{}, err
		}
		counts[i] = count
	}
	num, den, err := m.Scale(apds9960.ChannelClear)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Lux:   float64(counts[0]) * (float64(num) + float64(den)/1e6),
		Clear: counts[0],
		Red:   counts[1],
		Green: counts[2],
		Blue:  counts[3],
		JobID: jobID,
	}, nil
}

// Stop the running job, and cancel its context
func (m *LightMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.sampling {
			ServeResponse(w, r, "The sensor is already stopped", http.StatusBadRequest)
			return
		}
		m.cancel()
		m.sampling = false
		ServeResponse(w, r, "Light Reading Stopped", http.StatusOK)
	}
}

func (m *LightMeter) isSampling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampling
}

// Serve data about the most recent entry saved to the db
func (m *LightMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		} else if !m.isSampling() {
			ServeResponse(w, r, "The sensor is not sampling", http.StatusBadRequest)
			return
		}
		conditions, err := m.getCurrentConditions()
		if err != nil {
			log.Println(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeJSON(w, conditions)
	}
}

// Return the most recent entry saved to the db
func (m *LightMeter) getCurrentConditions() (Conditions, error) {
	conditions := Conditions{}
	row := m.ResultsDB.QueryRow("SELECT job_id, lux, clear, red, green, blue FROM als_readings ORDER BY id DESC LIMIT 1")
	err := row.Scan(&conditions.JobID, &conditions.Lux, &conditions.Clear, &conditions.Red, &conditions.Green, &conditions.Blue)
	if err != nil {
		return Conditions{}, err
	}
	return conditions, nil
}

// Report the committed ALS integration time
func (m *LightMeter) ServeIntegrationTime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		st := m.Status()
		ServeJSON(w, map[string]any{
			"integrationTime": st.IntegrationTime.String(),
			"control":         st.IntegrationControl,
			"gain":            st.Gain,
		})
	}
}

// Reconfigure the ALS integration time from a control value, and
// optionally a new gain
func (m *LightMeter) UpdateIntegrationTime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		val, err := strconv.Atoi(r.FormValue("value"))
		if err != nil {
			ServeResponse(w, r, "value must be an integer between 0 and 255", http.StatusBadRequest)
			return
		}
		gain := m.Status().Gain
		if g := r.FormValue("gain"); g != "" {
			gain, err = strconv.Atoi(g)
			if err != nil {
				ServeResponse(w, r, "gain must be one of 1, 4, 16, 64", http.StatusBadRequest)
				return
			}
		}

		committed, err := m.SetIntegrationTime(val, gain)
		if err != nil {
			ServeResponse(w, r, err.Error(), errStatus(err))
			return
		}
		ServeJSON(w, map[string]any{
			"integrationTime": committed.String(),
			"control":         val,
			"gain":            gain,
		})
	}
}

// Report the ALS gain
func (m *LightMeter) ServeGain() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		gain := m.Status().Gain
		ServeJSON(w, map[string]any{
			"gain":  gain,
			"label": apds9960.GainToString(gain),
		})
	}
}

// Change the ALS gain
func (m *LightMeter) UpdateGain() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		gain, err := strconv.Atoi(r.FormValue("gain"))
		if err != nil {
			ServeResponse(w, r, "gain must be one of 1, 4, 16, 64", http.StatusBadRequest)
			return
		}
		if err := m.SetGain(gain); err != nil {
			ServeResponse(w, r, err.Error(), errStatus(err))
			return
		}
		ServeJSON(w, map[string]any{
			"gain":  gain,
			"label": apds9960.GainToString(gain),
		})
	}
}

// Report the raw-count-to-lux scale for a channel
func (m *LightMeter) ServeScale() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		ch := apds9960.ChannelClear
		if name := r.FormValue("channel"); name != "" {
			parsed, err := apds9960.ParseChannel(name)
			if err != nil {
				ServeResponse(w, r, "channel must be one of clear, red, green, blue", http.StatusBadRequest)
				return
			}
			ch = parsed
		}
		num, den, err := m.Scale(ch)
		if err != nil {
			ServeResponse(w, r, err.Error(), errStatus(err))
			return
		}
		ServeJSON(w, map[string]any{
			"channel":     ch.String(),
			"numerator":   num,
			"denominator": den,
			"luxPerCount": float64(num) + float64(den)/1e6,
		})
	}
}

// Report whether the threshold event source is armed
func (m *LightMeter) ServeEventConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		armed, err := m.EventConfig()
		if err != nil {
			ServeResponse(w, r, err.Error(), errStatus(err))
			return
		}
		ServeJSON(w, map[string]any{"armed": armed})
	}
}

// Arm or disarm the threshold event source. A threshold byte arms it with
// that value; enabled=true arms it with the ceiling, enabled=false clears.
func (m *LightMeter) UpdateEventConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		if th := r.FormValue("threshold"); th != "" {
			val, err := strconv.Atoi(th)
			if err != nil || val < 0 || val > 255 {
				ServeResponse(w, r, "threshold must be an integer between 0 and 255", http.StatusBadRequest)
				return
			}
			if err := m.ArmThreshold(byte(val)); err != nil {
				ServeResponse(w, r, err.Error(), errStatus(err))
				return
			}
			ServeJSON(w, map[string]any{"armed": val != 0, "threshold": val})
			return
		}

		enabled, err := strconv.ParseBool(r.FormValue("enabled"))
		if err != nil {
			ServeResponse(w, r, "enabled must be true or false", http.StatusBadRequest)
			return
		}
		if err := m.SetEventConfig(enabled); err != nil {
			ServeResponse(w, r, err.Error(), errStatus(err))
			return
		}
		ServeJSON(w, map[string]any{"armed": enabled})
	}
}

// Serve the most recent threshold events saved to the db
func (m *LightMeter) ServeEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := m.ResultsDB.Query("SELECT identifier, observed_at FROM als_events ORDER BY id DESC LIMIT 50")
		if err != nil {
			log.Println(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type eventRecord struct {
			Identifier int    `json:"identifier"`
			ObservedAt string `json:"observedAt"`
		}
		events := []eventRecord{}
		for rows.Next() {
			var identifier int
			var observedAt time.Time
			if err := rows.Scan(&identifier, &observedAt); err != nil {
				log.Println(err)
				ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
				return
			}
			events = append(events, eventRecord{
				Identifier: identifier,
				ObservedAt: observedAt.UTC().Format("2006-01-02 15:04:05.000000000"),
			})
		}
		ServeJSON(w, events)
	}
}

// Status of the sensor and the current job
func (m *LightMeter) ServeStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			Connected       bool   `json:"connected"`
			Powered         bool   `json:"powered"`
			Sampling        bool   `json:"sampling"`
			Gain            int    `json:"gain"`
			IntegrationTime string `json:"integrationTime"`
			EventDrops      uint32 `json:"eventDrops"`
			Pid             int    `json:"pid"`
		}
		s := status{Pid: m.Pid}
		if m.APDS9960 != nil {
			st := m.Status()
			s.Connected = true
			s.Powered = st.Powered
			s.Sampling = m.isSampling()
			s.Gain = st.Gain
			s.IntegrationTime = st.IntegrationTime.String()
			s.EventDrops = m.EventDrops()
		}
		ServeJSON(w, s)
	}
}

// Dump the mirrored configuration registers. This is served from the
// access layer's cache, it never generates bus traffic.
func (m *LightMeter) ServeRegisters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APDS9960 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		snap := m.SnapshotCache()
		out := make(map[string]string, len(snap))
		for reg, val := range snap {
			out[fmt.Sprintf("0x%02X", reg)] = fmt.Sprintf("0x%02X", val)
		}
		ServeJSON(w, out)
	}
}

// Reply with a plain JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// Reply with a JSON payload
func ServeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, apds9960.ErrInvalidGain),
		errors.Is(err, apds9960.ErrInvalidIntegrationTime),
		errors.Is(err, apds9960.ErrInvalidChannel),
		errors.Is(err, apds9960.ErrNotPowered):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Read from ResultsChan, write the readings to sqlite
func (m *LightMeter) MonitorAndRecordResults() {
	log.Println("Monitoring for new light readings...")
	for result := range m.ResultsChan {
		log.Println(fmt.Sprintf("- JobID: %s, Lux: %.5f", result.JobID, result.Lux))
		_, err := m.ResultsDB.Exec(
			"INSERT INTO als_readings (job_id, lux, clear, red, green, blue) VALUES (?, ?, ?, ?, ?, ?)",
			result.JobID,
			fmt.Sprintf("%.5f", result.Lux),
			result.Clear,
			result.Red,
			result.Green,
			result.Blue,
		)
		if err != nil {
			log.Println(err)
		}
	}
}

// Read from the device event stream, write threshold events to sqlite
func (m *LightMeter) MonitorAndRecordEvents() {
	if m.APDS9960 == nil {
		return
	}
	log.Println("Monitoring for new threshold events...")
	var drops uint32
	for ev := range m.Events() {
		log.Println(fmt.Sprintf("- Event: %d at %s", ev.ID, ev.Timestamp.UTC().Format("15:04:05.000000000")))
		_, err := m.ResultsDB.Exec(
			"INSERT INTO als_events (identifier, observed_at) VALUES (?, ?)",
			ev.ID,
			ev.Timestamp.UTC(),
		)
		if err != nil {
			log.Println(err)
		}
		if d := m.EventDrops(); d != drops {
			log.Println(fmt.Sprintf("Dropped %d events since the last record", d-drops))
			drops = d
		}
	}
}
