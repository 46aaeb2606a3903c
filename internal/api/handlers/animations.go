package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nextconvert/assembler/internal/modules/animation"
)

// AnimationRequest names one (type, intensity) pair
type AnimationRequest struct {
	Type      animation.Type      `json:"type"`
	Intensity animation.Intensity `json:"intensity"`
}

// AnimationValidation is the validator's answer
type AnimationValidation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ListAnimations returns the supported types and intensities
func ListAnimations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"types":       animation.Types(),
		"intensities": animation.Intensities(),
	})
}

// ValidateAnimation checks an animation combination without rendering
func ValidateAnimation(w http.ResponseWriter, r *http.Request) {
	var req AnimationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	if err := animation.Validate(req.Type, req.Intensity); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, AnimationValidation{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, AnimationValidation{Valid: true})
}
