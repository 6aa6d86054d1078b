package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ztkent/apds9960-meter/apds9960"
	"github.com/ztkent/apds9960-meter/internal/lightmeter"
	"github.com/ztkent/apds9960-meter/internal/tools"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

/*
	This is the primary entry point for the Light Meter application.
	It should be running at startup, on a Raspberry Pi, with the APDS9960 sensor connected.
*/

func main() {
	pid := os.Getpid()
	log.Println("LightMeter [" + fmt.Sprintf("%d", pid) + "]")

	// connect to the color/light sensor
	device, err := apds9960.NewAPDS9960(1, os.Getenv("APDS9960_I2C_DEV"))
	if err != nil {
		log.Fatalf("Failed to connect to the APDS9960 sensor: %v", err)
	}

	// route the sensor INT line into the event path
	watchInterruptPin(device)

	// connect to the sqlite database
	meterDB, err := tools.ConnectSqlite(lightmeter.DB_PATH)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		log.Fatalf("Failed to connect to the sqlite database: %v", err)
	}

	// Initialize router
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)

	// Define routes
	defineRoutes(r, &lightmeter.LightMeter{
		APDS9960:    device,
		ResultsDB:   meterDB,
		ResultsChan: make(chan lightmeter.Reading),
		Pid:         pid,
	})

	if os.Getenv("SSL") == "true" {
		// Generate a self-signed certificate if one doesn't exist
		tools.EnsureCertificate("cert.pem", "key.pem")

		// Start server
		app_port := "443"
		certPath := "cert.pem"
		keyPath := "key.pem"

		log.Printf("Starting HTTPS server on port %s", app_port)
		err = http.ListenAndServeTLS(":"+app_port, certPath, keyPath, r)
		if err != nil {
			log.Fatalf("Failed to start HTTPS server: %v", err)
		}
	} else {
		// Start server
		app_port := "80"
		log.Printf("Starting HTTP server on port %s", app_port)
		err = http.ListenAndServe(":"+app_port, r)
		if err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}

	return
}

// Watch the sensor INT line when a GPIO pin is configured. Without a pin
// the threshold store still works, events just never fire on edges.
func watchInterruptPin(device *apds9960.APDS9960) {
	pinName := os.Getenv("APDS9960_IRQ_PIN")
	if pinName == "" {
		return
	}
	if _, err := host.Init(); err != nil {
		log.Printf("Failed to initialize the gpio host: %v", err)
		return
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		log.Printf("No gpio pin named %q, threshold events will not fire", pinName)
		return
	}
	if err := device.WatchInterrupts(context.Background(), pin); err != nil {
		log.Printf("Failed to watch %s for interrupts: %v", pinName, err)
		return
	}
	log.Printf("Watching %s for sensor interrupts", pinName)
}

func defineRoutes(r *chi.Mux, meter *lightmeter.LightMeter) {
	// Listen for readings and threshold events from our jobs, record them in sqlite
	go meter.MonitorAndRecordResults()
	go meter.MonitorAndRecordEvents()

	// Light Meter Controls, kept inside the local network
	r.Route("/lightmeter", func(r chi.Router) {
		r.Use(tools.CheckInNetwork)
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/history", meter.ServeHistory())
		r.Get("/integration-time", meter.ServeIntegrationTime())
		r.Post("/integration-time", meter.UpdateIntegrationTime())
		r.Get("/gain", meter.ServeGain())
		r.Post("/gain", meter.UpdateGain())
		r.Get("/scale", meter.ServeScale())
		r.Get("/event-config", meter.ServeEventConfig())
		r.Post("/event-config", meter.UpdateEventConfig())
		r.Get("/events", meter.ServeEvents())
		r.Get("/registers", meter.ServeRegisters())
		r.Get("/status", meter.ServeStatus())
		r.Get("/export", meter.ServeResultsDB())
		r.Get("/graph", meter.ServeResultsGraph())
		r.Post("/graph", meter.ServeResultsGraph())
		r.Get("/clear", meter.Clear())
	})

	// Light Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/integration-time", meter.ServeIntegrationTime())
		r.Post("/integration-time", meter.UpdateIntegrationTime())
		r.Get("/gain", meter.ServeGain())
		r.Post("/gain", meter.UpdateGain())
		r.Get("/scale", meter.ServeScale())
		r.Get("/event-config", meter.ServeEventConfig())
		r.Post("/event-config", meter.UpdateEventConfig())
		r.Get("/events", meter.ServeEvents())
		r.Get("/status", meter.ServeStatus())
		r.Get("/export", meter.ServeResultsDB())
		r.Get("/clear", meter.Clear())
	})

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
		}{
			ServiceName: "APDS9960 Light Meter",
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				lightmeter.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
