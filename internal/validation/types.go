package validation

// GenerateItineraryRequest is the payload for POST /itineraries.
// Ride types and location preferences are closed enums; duration is in days.
type GenerateItineraryRequest struct {
	RideType           string   `json:"rideType" validate:"required,oneof='Solo Ride' 'Squad Ride'"`
	RideSource         string   `json:"rideSource" validate:"required"`
	RideDestination    string   `json:"rideDestination" validate:"required"`
	RideDuration       int      `json:"rideDuration" validate:"required,min=1"`
	LocationPreference string   `json:"locationPreference" validate:"required,oneof=Off-beat Well-known"`
	Email              string   `json:"email" validate:"required,email"` // requester identity
	Preferences        []string `json:"preferences,omitempty"`           // free-form extras fed into the prompt
	NumItineraries     int      `json:"numItineraries,omitempty" validate:"omitempty,min=1,max=5"`
}
