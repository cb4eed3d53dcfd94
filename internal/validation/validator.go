package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation
// registered for the submission payload.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// source and destination must name different places; a same-place tour
	// has no route to plan.
	v.RegisterStructValidation(generateItineraryStructValidation, GenerateItineraryRequest{})

	return v
}

func generateItineraryStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(GenerateItineraryRequest)

	src := strings.ToLower(strings.TrimSpace(req.RideSource))
	dst := strings.ToLower(strings.TrimSpace(req.RideDestination))
	if src != "" && src == dst {
		sl.ReportError(req.RideDestination, "rideDestination", "RideDestination", "nefield", "rideSource")
	}
}
