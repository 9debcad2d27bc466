package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ukydev/vehicle-care/internal/schedule"
)

// Fuel types accepted for a vehicle.
const (
	FuelPetrol   = "petrol"
	FuelDiesel   = "diesel"
	FuelElectric = "electric"
	FuelHybrid   = "hybrid"
	FuelLPG      = "lpg"
)

// Odometer is a distance reading in km. It decodes from a JSON number or from
// a numeric string as sent by forms; empty or unparseable input reads as 0,
// which the scheduler treats as "no reading".
type Odometer int64

// UnmarshalJSON accepts 15000, 15000.0, "15000" and "".
func (o *Odometer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = 0
		return nil
	}

	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	v, ok := schedule.ParseOdometer(s)
	if !ok || v < 0 {
		v = 0
	}
	*o = Odometer(v)
	return nil
}

// String formats the reading without unit.
func (o Odometer) String() string {
	return strconv.FormatInt(int64(o), 10)
}

// Vehicle is a registered vehicle. RegNo is its primary key and never changes
// after registration.
type Vehicle struct {
	RegNo              string    `bson:"_id" json:"regNo" validate:"required,max=20,regno"`
	OwnerID            string    `bson:"owner_id" json:"ownerId"`
	Make               string    `bson:"make" json:"make" validate:"required,max=50"`
	Model              string    `bson:"model" json:"model" validate:"required,max=50"`
	Year               int       `bson:"year" json:"year" validate:"required,min=1900"`
	FuelType           string    `bson:"fuel_type" json:"fuelType" validate:"required,oneof=petrol diesel electric hybrid lpg"`
	Color              string    `bson:"color" json:"color" validate:"omitempty,hexcolor"`
	Mileage            Odometer  `bson:"mileage" json:"mileage" validate:"min=0"`
	LastServiceMileage Odometer  `bson:"last_service_mileage" json:"lastServiceMileage" validate:"min=0"`
	LastServiceDate    string    `bson:"last_service_date,omitempty" json:"lastServiceDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CreatedAt          time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updatedAt"`
}

// Snapshot returns the odometer state the scheduler works from.
func (v *Vehicle) Snapshot() schedule.Snapshot {
	return schedule.Snapshot{
		Mileage:            int64(v.Mileage),
		LastServiceMileage: int64(v.LastServiceMileage),
	}
}

// MileageRegressed reports a current reading below the last service reading.
func (v *Vehicle) MileageRegressed() bool {
	return v.Mileage > 0 && v.Mileage < v.LastServiceMileage
}

// VehicleDue pairs a vehicle with its computed due services.
type VehicleDue struct {
	Vehicle  Vehicle               `json:"vehicle"`
	Services []schedule.DueService `json:"services"`
}
