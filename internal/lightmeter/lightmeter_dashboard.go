package lightmeter

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/ztkent/apds9960-meter/internal/tools"
)

// At the fixed 0.01 lux-per-count scale the meter tops out around 655 lux,
// so the reference bands sit in the indoor range.
var luxBands = []struct {
	Level int
	Title string
	Color string
}{
	{25, "Dusk", "DarkGrey"},
	{100, "Indoor", "WhiteSmoke"},
	{300, "Bright Indoor", "SkyBlue"},
	{550, "Daylight", "Yellow"},
}

// Serve the sqlite db for download
func (m *LightMeter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", DB_PATH))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, DB_PATH)
	}
}

// Serve the results graph: lux over time with reference bands, and the
// raw channel counts underneath it
func (m *LightMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, endDate := tools.ParseStartAndEndDate(r)

		rows, err := m.ResultsDB.Query(
			"SELECT lux, clear, red, green, blue, created_at FROM als_readings WHERE created_at BETWEEN ? AND ? ORDER BY created_at",
			startDate, endDate)
		if err != nil {
			log.Println(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		var luxValues []opts.LineData
		var clearValues, redValues, greenValues, blueValues []opts.LineData
		var timeValues []string
		var maxLux int
		for rows.Next() {
			var lux string
			var clear, red, green, blue int
			var createdAt time.Time
			if err := rows.Scan(&lux, &clear, &red, &green, &blue, &createdAt); err != nil {
				log.Println(err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			luxFloat, err := strconv.ParseFloat(lux, 64)
			if err != nil {
				log.Println(err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if luxFloat > float64(maxLux) {
				// Round up to the nearest 50
				maxLux = int(math.Ceil(luxFloat/50) * 50)
			}
			luxValues = append(luxValues, opts.LineData{Value: luxFloat})
			clearValues = append(clearValues, opts.LineData{Value: clear})
			redValues = append(redValues, opts.LineData{Value: red})
			greenValues = append(greenValues, opts.LineData{Value: green})
			blueValues = append(blueValues, opts.LineData{Value: blue})
			timeValues = append(timeValues, createdAt.Format("2006-01-02 15:04:05"))
		}

		luxLine := charts.NewLine()
		for _, band := range luxBands {
			data := make([]opts.LineData, len(timeValues))
			for i := range data {
				data[i] = opts.LineData{Value: band.Level}
			}
			luxLine.AddSeries(
				band.Title,
				data,
				charts.WithLineChartOpts(opts.LineChart{
					Color: band.Color,
				}),
			)
		}
		luxLine.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme: types.ThemeChalk,
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Lux",
				Min:  "0",
				Max:  fmt.Sprintf("%d", maxLux),
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
			charts.WithToolboxOpts(opts.Toolbox{
				Show: true,
				Feature: &opts.ToolBoxFeature{
					SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
						Show:  true,
						Title: "Save as Image",
						Name:  "light-meter",
					},
				},
			}),
		)
		luxLine.SetXAxis(timeValues).AddSeries("Lux", luxValues)

		channelLine := charts.NewLine()
		channelLine.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme: types.ThemeChalk,
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Counts",
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
		)
		channelLine.SetXAxis(timeValues).
			AddSeries("Clear", clearValues, charts.WithLineChartOpts(opts.LineChart{Color: "WhiteSmoke"})).
			AddSeries("Red", redValues, charts.WithLineChartOpts(opts.LineChart{Color: "IndianRed"})).
			AddSeries("Green", greenValues, charts.WithLineChartOpts(opts.LineChart{Color: "MediumSeaGreen"})).
			AddSeries("Blue", blueValues, charts.WithLineChartOpts(opts.LineChart{Color: "SteelBlue"}))

		page := components.NewPage()
		page.AddCharts(luxLine, channelLine)

		w.Header().Set("Content-Type", "text/html")
		page.Render(w)
	}
}

// Clear every recorded reading and threshold event
func (m *LightMeter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.ResultsDB == nil {
			ServeResponse(w, r, "No results database connected", http.StatusBadRequest)
			return
		}
		for _, table := range []string{"als_readings", "als_events"} {
			if _, err := m.ResultsDB.Exec("DELETE FROM " + table); err != nil {
				log.Println(err)
				ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		ServeResponse(w, r, "Results Cleared", http.StatusOK)
	}
}

// Serve aggregate light statistics for a date range
func (m *LightMeter) ServeHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions := Conditions{}
		if m.isSampling() {
			latest, err := m.getCurrentConditions()
			if err != nil && err != sql.ErrNoRows {
				ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
				return
			}
			conditions = latest
		}
		startDate, endDate := tools.ParseStartAndEndDate(r)
		conditions, err := m.getHistoricalConditions(conditions, startDate, endDate)
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeJSON(w, conditions)
	}
}

// Fold the aggregate stats for a date range into the conditions
func (m *LightMeter) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)

	// Average lux and the observed span for the range
	row := m.ResultsDB.QueryRow(`
    SELECT
        COALESCE(AVG(lux), 0),
        COALESCE(MIN(created_at), '0001-01-01 00:00:00'),
        COALESCE(MAX(created_at), '0001-01-01 00:00:00')
    FROM als_readings
    WHERE created_at BETWEEN ? AND ?`, startDate, endDate)
	var oldest, mostRecent sql.NullString
	err := row.Scan(&conditions.AverageLuxInRange, &oldest, &mostRecent)
	if err != nil {
		return conditions, err
	}
	if conditions.AverageLuxInRange == 0 {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions, nil
	}

	// Minutes where the average lux cleared the bright-indoor band
	rows, err := m.ResultsDB.Query(`
    SELECT COUNT(*)
    FROM (
        SELECT AVG(lux) as avg_lux
        FROM als_readings
        WHERE created_at BETWEEN ? AND ?
        GROUP BY strftime('%H:%M', created_at)
    )
    WHERE avg_lux > 300`, startDate, endDate)
	if err != nil {
		return conditions, err
	}
	defer rows.Close()

	var brightMinutes sql.NullFloat64
	if rows.Next() {
		if err := rows.Scan(&brightMinutes); err != nil {
			return conditions, err
		}
	}
	if brightMinutes.Valid {
		conditions.BrightHoursInRange = brightMinutes.Float64 / 60
	}

	if oldest.Valid && mostRecent.Valid {
		first, last, err := tools.StartAndEndDateToTime(oldest.String, mostRecent.String)
		if err != nil {
			return conditions, err
		}
		conditions.RecordedHoursInRange = last.Sub(first).Hours()
		ratio := 0.0
		if conditions.RecordedHoursInRange > 0 {
			ratio = conditions.BrightHoursInRange / conditions.RecordedHoursInRange
		}
		switch {
		case ratio > 0.5:
			conditions.LightConditionInRange = "Daylight"
		case ratio > 0.25:
			conditions.LightConditionInRange = "Bright Indoor"
		case ratio > 0.1:
			conditions.LightConditionInRange = "Indoor"
		default:
			conditions.LightConditionInRange = "Dim"
		}
	}

	return conditions, nil
}
