package dispatch

import "context"

// Poster delivers one alert to the external channel. Implementations live in
// internal/poster; the dispatcher only needs this surface.
type Poster interface {
	// Name identifies the poster in logs.
	Name() string

	// Post publishes the text and returns the external post id.
	Post(ctx context.Context, text string) (string, error)
}
