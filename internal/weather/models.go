package weather

// Push channel event names emitted by the tracker server.
const (
	EventUpdate = "weather_update"
	EventDelete = "weather_delete"
)

// Record is a single weather reading as served by the tracker API.
// Records are immutable once received; a newer reading for the same city is a
// new Record with a new ID.
type Record struct {
	ID        int64   `json:"id" validate:"required,gt=0"`
	City      string  `json:"city" validate:"required"`
	Humidity  float64 `json:"humidity" validate:"gte=0,lte=100"`
	Cloud     float64 `json:"cloud" validate:"gte=0,lte=100"`
	WindSpeed float64 `json:"wind_speed" validate:"gte=0"` // kph
}

// DeleteEvent is the payload of a weather_delete push event.
type DeleteEvent struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}
