package tools

import (
	"log"
	"net"
	"net/http"
	"time"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Prevent out-of-network requests to dashboard endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !isLocalAddress(parsedIP) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isLocalAddress(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
	}
	for _, block := range privateBlocks {
		_, cidr, _ := net.ParseCIDR(block)
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseStartAndEndDate pulls the requested date range out of the form and
// normalizes it to UTC database timestamps. An empty range means the last
// day of readings. Submitted times are taken in the meter's local zone,
// the Pi's clock is the only one anybody sets.
func ParseStartAndEndDate(r *http.Request) (string, string) {
	r.ParseForm()
	startDate := r.FormValue("start")
	endDate := r.FormValue("end")
	layoutInput := "2006-01-02T15:04"
	if startDate == "" || endDate == "" {
		now := time.Now().UTC()
		return now.Add(-24 * time.Hour).Format(dbTimeLayout), now.Format(dbTimeLayout)
	}

	format := func(raw string) (string, bool) {
		t, err := time.ParseInLocation(layoutInput, raw, time.Local)
		if err != nil {
			log.Println("Error parsing date:", err)
			return "", false
		}
		return t.UTC().Format(dbTimeLayout), true
	}
	if formatted, ok := format(startDate); ok {
		startDate = formatted
	}
	if formatted, ok := format(endDate); ok {
		endDate = formatted
	}
	return startDate, endDate
}

// StartAndEndDateToTime parses a pair of database timestamps back into
// time values.
func StartAndEndDateToTime(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(dbTimeLayout, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(dbTimeLayout, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
