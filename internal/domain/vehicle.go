package domain

import "fmt"

// Vehicle collects customers while a solver assigns stops to the fleet.
type Vehicle struct {
	VehicleID int
	Capacity  int
	Load      int
	Customers []int
}

func NewVehicle(id int, capacity int) *Vehicle {
	return &Vehicle{
		VehicleID: id,
		Capacity:  capacity,
	}
}

// Fits reports whether a customer of the given demand can still be loaded.
func (v *Vehicle) Fits(demand int) bool {
	return v.Load+demand <= v.Capacity
}

// Assign a single customer to the vehicle.
func (v *Vehicle) Assign(customerID int, demand int) error {
	if !v.Fits(demand) {
		return fmt.Errorf("assign customer: vehicle %d is at capacity (load=%d capacity=%d demand=%d)",
			v.VehicleID, v.Load, v.Capacity, demand)
	}
	v.Customers = append(v.Customers, customerID)
	v.Load += demand
	return nil
}

// ForceAssign loads a customer regardless of capacity; route validation splits the overflow into trips.
func (v *Vehicle) ForceAssign(customerID int, demand int) {
	v.Customers = append(v.Customers, customerID)
	v.Load += demand
}

// Unload all customers from the vehicle.
func (v *Vehicle) Clear() {
	v.Customers = nil
	v.Load = 0
}
