package dto

// PlanQuery is the query string of the hospital routing endpoint.
type PlanQuery struct {
	HospitalID string `query:"hospital_id" validate:"required,max=128"`
	Runtime    int    `query:"runtime" validate:"min=1,max=600"`
	MultiMerge bool   `query:"multi_merge"`
	Vehicles   int    `query:"vehicles" validate:"min=1,max=500"`
	Capacity   int    `query:"capacity" validate:"min=1,max=10000"`
}

// DriverPlanQuery is the query string of the driver routing endpoint.
type DriverPlanQuery struct {
	DriverID   string `query:"driver_id" validate:"required,max=128"`
	Runtime    int    `query:"runtime" validate:"min=1,max=600"`
	MultiMerge bool   `query:"multi_merge"`
}

type RoutePointResponse struct {
	Node    int     `json:"node"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Name    string  `json:"name"`
	ID      string  `json:"id"`
	OrderID *string `json:"order_id,omitempty"`
	Type    string  `json:"type"`
}

type RouteMetricsResponse struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationH   float64 `json:"duration_h"`
	WithinShift bool    `json:"within_shift"`
}

type EdgeResponse struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type HospitalPlanResponse struct {
	Algorithm     string                 `json:"algorithm"`
	HospitalID    string                 `json:"hospital_id"`
	NumRoutes     int                    `json:"num_routes"`
	Cost          *float64               `json:"cost"`
	Routes        [][]RoutePointResponse `json:"routes"`
	Metrics       []RouteMetricsResponse `json:"metrics"`
	Unserved      []RoutePointResponse   `json:"unserved"`
	FallbackEdges []EdgeResponse         `json:"fallback_edges"`
}

type LegResponse struct {
	From             int     `json:"from"`
	To               int     `json:"to"`
	DistanceM        float64 `json:"distance_m"`
	SegmentETAMin    int     `json:"segment_eta_min"`
	CumulativeETAMin int     `json:"cumulative_eta_min"`
}

type DriverRouteResponse struct {
	Path []int         `json:"path"`
	Legs []LegResponse `json:"legs"`
}

type DriverPlanResponse struct {
	DriverID             string                 `json:"driver_id"`
	Algorithm            string                 `json:"algorithm"`
	NumDeliveries        int                    `json:"num_deliveries"`
	Cost                 *float64               `json:"cost"`
	Routes               []DriverRouteResponse  `json:"routes"`
	Geo                  [][]RoutePointResponse `json:"geo"`
	Metrics              []RouteMetricsResponse `json:"metrics"`
	OrderSequence        []string               `json:"order_sequence"`
	ETAByOrder           map[string]int         `json:"eta_by_order"`
	ETACumulativeByOrder map[string]int         `json:"eta_cumulative_by_order"`
	Unserved             []RoutePointResponse   `json:"unserved"`
	FallbackEdges        []EdgeResponse         `json:"fallback_edges"`
	Message              string                 `json:"message,omitempty"`
}

type TodayOrderResponse struct {
	OrderID             string `json:"order_id"`
	Status              string `json:"status"`
	HospitalName        string `json:"hospital_name"`
	PatientAddress      string `json:"patient_address"`
	OrdersCount         int    `json:"orders_count"`
	ETAMinutes          int    `json:"eta_minutes"`
	ETAIsEstimate       bool   `json:"eta_is_estimate"`
	MaxExcursionMinutes int    `json:"max_excursion_minutes"`
	ArrivalTime         string `json:"arrival_time"`
	RemainingStability  string `json:"remaining_stability"`
}
