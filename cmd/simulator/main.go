package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Vehicle is the vehicle payload of the API.
type Vehicle struct {
	RegNo              string `json:"regNo"`
	Make               string `json:"make"`
	Model              string `json:"model"`
	Year               int    `json:"year"`
	FuelType           string `json:"fuelType"`
	Mileage            int64  `json:"mileage"`
	LastServiceMileage int64  `json:"lastServiceMileage"`
}

// DueService is one entry of GET /vehicles/{regNo}/due.
type DueService struct {
	Name   string `json:"name"`
	DueIn  int64  `json:"dueIn"`
	Status string `json:"status"`
}

// VehicleDue is the body of GET /vehicles/{regNo}/due.
type VehicleDue struct {
	Vehicle  Vehicle      `json:"vehicle"`
	Services []DueService `json:"services"`
}

var makes = map[string][]string{
	"petrol":   {"Ford", "Toyota", "Honda", "BMW", "Volkswagen"},
	"diesel":   {"Ford", "Volkswagen", "Peugeot", "Mercedes-Benz"},
	"electric": {"Tesla", "Nissan", "Kia", "Renault"},
	"hybrid":   {"Toyota", "Honda", "Lexus"},
}

var models = map[string][]string{
	"Ford":          {"Focus", "Fiesta", "Transit"},
	"Toyota":        {"Corolla", "Yaris", "Prius", "RAV4"},
	"Honda":         {"Civic", "Jazz", "CR-V"},
	"BMW":           {"3 Series", "X5"},
	"Volkswagen":    {"Golf", "Passat", "Polo"},
	"Peugeot":       {"308", "Partner"},
	"Mercedes-Benz": {"C-Class", "Sprinter"},
	"Tesla":         {"Model 3", "Model Y"},
	"Nissan":        {"Leaf"},
	"Kia":           {"Niro", "EV6"},
	"Renault":       {"Zoe"},
	"Lexus":         {"UX"},
}

var fuelTypes = []string{"petrol", "diesel", "electric", "hybrid"}

var (
	authToken  string
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

func authorizedRequest(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	return httpClient.Do(req)
}

func randomRegNo(i int) string {
	const letters = "ABCDEFGHJKLMNPRSTUVWXYZ"
	suffix := make([]byte, 3)
	for j := range suffix {
		suffix[j] = letters[rand.Intn(len(letters))]
	}
	return fmt.Sprintf("SIM%02d%s", i, suffix)
}

// randomVehicle returns a used car with a plausible service history.
func randomVehicle(regNo, fuelType string) Vehicle {
	mk := makes[fuelType][rand.Intn(len(makes[fuelType]))]
	mdl := models[mk][rand.Intn(len(models[mk]))]

	mileage := int64(5000 + rand.Intn(95000))
	lastService := mileage - int64(rand.Intn(12000))
	if lastService < 0 {
		lastService = 0
	}

	return Vehicle{
		RegNo:              regNo,
		Make:               mk,
		Model:              mdl,
		Year:               2015 + rand.Intn(10),
		FuelType:           fuelType,
		Mileage:            mileage,
		LastServiceMileage: lastService,
	}
}

func createVehicle(ctx context.Context, apiURL string, vehicle Vehicle) (*Vehicle, error) {
	resp, err := authorizedRequest(ctx, http.MethodPost, apiURL+"/vehicles", vehicle)
	if err != nil {
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("vehicle creation failed with status: %d", resp.StatusCode)
	}

	var created Vehicle
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if created.RegNo == "" {
		return nil, fmt.Errorf("invalid vehicle in response")
	}

	log.WithFields(log.Fields{
		"reg_no":  created.RegNo,
		"make":    created.Make,
		"model":   created.Model,
		"mileage": created.Mileage,
	}).Info("Created vehicle")

	return &created, nil
}

func updateMileage(ctx context.Context, apiURL string, vehicle Vehicle) error {
	resp, err := authorizedRequest(ctx, http.MethodPut, apiURL+"/vehicles/"+vehicle.RegNo, vehicle)
	if err != nil {
		return fmt.Errorf("failed to update vehicle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vehicle update failed with status: %d", resp.StatusCode)
	}
	return nil
}

func fetchDue(ctx context.Context, apiURL, regNo string) (*VehicleDue, error) {
	resp, err := authorizedRequest(ctx, http.MethodGet, apiURL+"/vehicles/"+regNo+"/due", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due services: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("due services failed with status: %d", resp.StatusCode)
	}

	var due VehicleDue
	if err := json.NewDecoder(resp.Body).Decode(&due); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &due, nil
}

// VehicleState is the simulated odometer of one vehicle.
type VehicleState struct {
	Vehicle  Vehicle
	SpeedKmh float64
	odometer float64
}

func newVehicleState(v Vehicle) *VehicleState {
	return &VehicleState{
		Vehicle:  v,
		SpeedKmh: 30 + rand.Float64()*60,
		odometer: float64(v.Mileage),
	}
}

// drive advances the odometer by simulated hours of driving and returns the
// new whole-km reading.
func (s *VehicleState) drive(hours float64) int64 {
	s.SpeedKmh += (rand.Float64()*2 - 1) * 5
	if s.SpeedKmh < 15 {
		s.SpeedKmh = 15
	}
	if s.SpeedKmh > 110 {
		s.SpeedKmh = 110
	}

	s.odometer += s.SpeedKmh * hours
	s.Vehicle.Mileage = int64(s.odometer)
	return s.Vehicle.Mileage
}

// reportDue logs the services needing attention.
func reportDue(due *VehicleDue) int {
	attention := 0
	for _, d := range due.Services {
		if d.Status == "Upcoming" {
			continue
		}
		attention++
		log.WithFields(log.Fields{
			"reg_no":  due.Vehicle.RegNo,
			"mileage": due.Vehicle.Mileage,
			"service": d.Name,
			"due_in":  d.DueIn,
			"status":  d.Status,
		}).Warn("Service needs attention")
	}
	return attention
}

// tick drives one vehicle forward, stores the new reading and checks what
// is due.
func tick(ctx context.Context, apiURL string, s *VehicleState, hours float64) error {
	s.drive(hours)
	if err := updateMileage(ctx, apiURL, s.Vehicle); err != nil {
		return err
	}
	due, err := fetchDue(ctx, apiURL, s.Vehicle.RegNo)
	if err != nil {
		return err
	}
	if reportDue(due) == 0 {
		log.WithFields(log.Fields{"reg_no": s.Vehicle.RegNo, "mileage": s.Vehicle.Mileage}).Debug("Nothing due")
	}
	return nil
}

func simulateVehicle(ctx context.Context, apiURL string, s *VehicleState, interval time.Duration, timeScale float64) {
	t := time.NewTicker(interval)
	defer t.Stop()
	hours := interval.Hours() * timeScale
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := tick(ctx, apiURL, s, hours); err != nil && ctx.Err() == nil {
				log.WithError(err).WithField("reg_no", s.Vehicle.RegNo).Error("Simulation step failed")
			}
		}
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return fallback
}

func main() {
	// Bearer token of an owner or staff account
	authToken = os.Getenv("SIM_AUTH_TOKEN")

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	fleetSize := envInt("FLEET_SIZE", 10)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	// simulated seconds per real second; the default turns a tick into driving hours
	timeScale := float64(envInt("SIM_TIME_SCALE", 3600))

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
		"time_scale": timeScale,
	}).Info("Starting mileage simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	states := make([]*VehicleState, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		fuelType := fuelTypes[rand.Intn(len(fuelTypes))]
		created, err := createVehicle(ctx, apiURL, randomVehicle(randomRegNo(i+1), fuelType))
		if err != nil {
			log.WithError(err).Error("Failed to create vehicle")
			continue
		}
		states = append(states, newVehicleState(*created))
	}

	log.WithField("created_vehicles", len(states)).Info("Vehicle creation completed")
	if len(states) == 0 {
		log.Error("No vehicles created. Ensure SIM_AUTH_TOKEN is valid and API is reachable. Exiting.")
		return
	}

	var wg sync.WaitGroup
	for _, s := range states {
		wg.Add(1)
		go func() {
			defer wg.Done()
			simulateVehicle(ctx, apiURL, s, interval, timeScale)
		}()
	}

	log.Info("Mileage simulation started")
	wg.Wait()
	log.Info("Mileage simulation stopped")
}
