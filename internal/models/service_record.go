package models

import (
	"time"
)

// ServiceRecord is one entry of a vehicle's service history.
type ServiceRecord struct {
	ID          string    `json:"id" bson:"_id"`
	RegNo       string    `json:"regNo" bson:"reg_no" validate:"required"`
	Date        string    `json:"date" bson:"date" validate:"required,datetime=2006-01-02"`
	ServiceType string    `json:"serviceType" bson:"service_type" validate:"required,max=100"` // catalog name, e.g. "Oil Change"
	Description string    `json:"description" bson:"description" validate:"max=500"`
	Cost        float64   `json:"cost" bson:"cost" validate:"min=0"`
	Mileage     Odometer  `json:"mileage" bson:"mileage" validate:"min=0"`
	Workshop    string    `json:"workshop" bson:"workshop" validate:"max=100"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}
