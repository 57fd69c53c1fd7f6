package models

import "errors"

// Validation errors for models.
var (
	// ErrJobIDRequired is returned when a job record has no job ID.
	ErrJobIDRequired = errors.New("job ID is required")

	// ErrInvalidFontSize is returned when a subtitle font size is not allowed.
	ErrInvalidFontSize = errors.New("font size must be one of 24, 30, 36, 42")

	// ErrInvalidPitch is returned when a global pitch shift is out of range.
	ErrInvalidPitch = errors.New("pitch shift must be between -12 and 12 semitones")

	// ErrInvalidSubtitlePosition is returned for an unknown subtitle position.
	ErrInvalidSubtitlePosition = errors.New("subtitle position must be top or bottom")
)

// ValidateRequest checks the user-controlled fields of a job request.
func ValidateRequest(req *JobRequest) error {
	if req.FontSize != 0 && !ValidFontSize(req.FontSize) {
		return ErrInvalidFontSize
	}
	if req.GlobalPitch < -12 || req.GlobalPitch > 12 {
		return ErrInvalidPitch
	}
	if req.SubtitlePosition != "" && req.SubtitlePosition != SubtitleTop && req.SubtitlePosition != SubtitleBottom {
		return ErrInvalidSubtitlePosition
	}
	return nil
}
