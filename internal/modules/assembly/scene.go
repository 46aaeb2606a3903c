package assembly

import "fmt"

// Scene is one still image with its narration. Duration is authoritative for
// both the video length and the audio padding of the scene's segment.
type Scene struct {
	ID        int     `json:"id" yaml:"id"`
	ImagePath string  `json:"imagePath" yaml:"imagePath"`
	AudioPath string  `json:"audioPath,omitempty" yaml:"audioPath"`
	Duration  float64 `json:"duration" yaml:"duration"`
	Narration string  `json:"narration,omitempty" yaml:"narration"`
}

// Validate checks a scene. An empty AudioPath renders the scene over silence.
func (s Scene) Validate() error {
	if s.ImagePath == "" {
		return fmt.Errorf("scene %d: imagePath is required", s.ID)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("scene %d: duration must be positive, got %v", s.ID, s.Duration)
	}
	return nil
}

// TotalDuration sums the declared scene durations.
func TotalDuration(scenes []Scene) float64 {
	total := 0.0
	for _, s := range scenes {
		total += s.Duration
	}
	return total
}
