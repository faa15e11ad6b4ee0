// Package tracks maps episodes and speakers onto audio/video tracks.
//
// Each episode may have several tracks (one per speaker microphone, a mixed
// program track). A track lists the speakers it carries; selection is an exact,
// case-sensitive match on that list.
package tracks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"clipstitch/internal/clip"
	"clipstitch/internal/kv"
	"clipstitch/internal/logging"
	"clipstitch/internal/services"
)

// ErrNoTracks reports an episode without registered tracks.
var ErrNoTracks = fmt.Errorf("%w: no tracks registered", services.ErrNotFound)

// ErrTrackExists reports a second registration of the same track name.
var ErrTrackExists = fmt.Errorf("%w: track already registered", services.ErrConflict)

// Track is one playable rendition of an episode.
type Track struct {
	EpisodeID   string   `json:"episode_id"`
	Name        string   `json:"name"`
	ManifestKey string   `json:"manifest_key"`
	Speakers    []string `json:"speakers,omitempty"`
	Default     bool     `json:"default,omitempty"`
}

// Validate checks the identifying fields.
func (t Track) Validate() error {
	if err := clip.ValidateID("episodeId", t.EpisodeID); err != nil {
		return err
	}
	if err := clip.ValidateID("track name", t.Name); err != nil {
		return err
	}
	if strings.TrimSpace(t.ManifestKey) == "" {
		return fmt.Errorf("%w: track %s has no manifest key", services.ErrValidation, t.Name)
	}
	return nil
}

// Carries reports whether speaker is listed on the track.
func (t Track) Carries(speaker string) bool {
	return slices.Contains(t.Speakers, speaker)
}

// Select returns the first track carrying speaker. A miss is not an error.
func Select(tracks []Track, speaker string) (Track, bool) {
	if speaker == "" {
		return Track{}, false
	}
	for _, t := range tracks {
		if t.Carries(speaker) {
			return t, true
		}
	}
	return Track{}, false
}

// Registry persists the tracks of each episode.
type Registry struct {
	store kv.Store
}

// NewRegistry returns a registry backed by store.
func NewRegistry(store kv.Store) *Registry {
	return &Registry{store: store}
}

func registryListKey(episodeID string) string {
	return "tracks/" + episodeID
}

func registryNameKey(episodeID, name string) string {
	return "tracks/" + episodeID + "/name/" + name
}

// Register adds track to its episode. Names are unique per episode.
func (r *Registry) Register(ctx context.Context, track Track) error {
	if err := track.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("encode track: %w", err)
	}
	fresh, err := r.store.PutIfAbsent(ctx, registryNameKey(track.EpisodeID, track.Name), []byte(track.ManifestKey))
	if err != nil {
		return fmt.Errorf("register track %s: %w", track.Name, err)
	}
	if !fresh {
		return fmt.Errorf("%w: %s/%s", ErrTrackExists, track.EpisodeID, track.Name)
	}
	if _, err := r.store.Append(ctx, registryListKey(track.EpisodeID), data); err != nil {
		return fmt.Errorf("register track %s: %w", track.Name, err)
	}
	return nil
}

// Tracks returns the episode's tracks in registration order.
func (r *Registry) Tracks(ctx context.Context, episodeID string) ([]Track, error) {
	raw, err := r.store.List(ctx, registryListKey(episodeID))
	if err != nil {
		return nil, fmt.Errorf("list tracks for %s: %w", episodeID, err)
	}
	out := make([]Track, 0, len(raw))
	for _, data := range raw {
		var t Track
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode track for %s: %w", episodeID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Resolution is the outcome of resolving several speakers at once.
type Resolution struct {
	Matched   map[string]Track
	Unmatched []string
}

// Selector answers track questions against a registry.
type Selector struct {
	registry *Registry
	logger   *slog.Logger
}

// NewSelector returns a selector over registry.
func NewSelector(registry *Registry, logger *slog.Logger) *Selector {
	return &Selector{registry: registry, logger: logging.NewComponentLogger(logger, "tracks")}
}

// Registry returns the backing registry.
func (s *Selector) Registry() *Registry { return s.registry }

// Resolve returns the track carrying speaker.
func (s *Selector) Resolve(ctx context.Context, episodeID, speaker string) (Track, bool, error) {
	list, err := s.registry.Tracks(ctx, episodeID)
	if err != nil {
		return Track{}, false, err
	}
	t, ok := Select(list, speaker)
	return t, ok, nil
}

// ResolveAll resolves each distinct speaker.
func (s *Selector) ResolveAll(ctx context.Context, episodeID string, speakers []string) (Resolution, error) {
	list, err := s.registry.Tracks(ctx, episodeID)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{Matched: make(map[string]Track)}
	seen := make(map[string]struct{}, len(speakers))
	for _, speaker := range speakers {
		if _, dup := seen[speaker]; dup {
			continue
		}
		seen[speaker] = struct{}{}
		if t, ok := Select(list, speaker); ok {
			res.Matched[speaker] = t
			continue
		}
		res.Unmatched = append(res.Unmatched, speaker)
	}
	return res, nil
}

// Default returns the track flagged default, otherwise the first registered.
func (s *Selector) Default(ctx context.Context, episodeID string) (Track, error) {
	list, err := s.registry.Tracks(ctx, episodeID)
	if err != nil {
		return Track{}, err
	}
	if len(list) == 0 {
		return Track{}, fmt.Errorf("%w: episode %s", ErrNoTracks, episodeID)
	}
	for _, t := range list {
		if t.Default {
			return t, nil
		}
	}
	return list[0], nil
}

// ByName returns the named track of an episode.
func (s *Selector) ByName(ctx context.Context, episodeID, name string) (Track, error) {
	list, err := s.registry.Tracks(ctx, episodeID)
	if err != nil {
		return Track{}, err
	}
	for _, t := range list {
		if t.Name == name {
			return t, nil
		}
	}
	return Track{}, fmt.Errorf("%w: track %q not registered for episode %s", services.ErrNotFound, name, episodeID)
}

// ForSegment picks the track a segment should be cut from. An explicit track
// name wins; otherwise the speaker is matched, falling back to the default
// track with a warning.
func (s *Selector) ForSegment(ctx context.Context, episodeID, trackName, speaker string) (Track, error) {
	if trackName != "" {
		return s.ByName(ctx, episodeID, trackName)
	}
	if speaker != "" {
		t, ok, err := s.Resolve(ctx, episodeID, speaker)
		if err != nil {
			return Track{}, err
		}
		if ok {
			return t, nil
		}
	}
	t, err := s.Default(ctx, episodeID)
	if err != nil {
		return Track{}, err
	}
	if speaker != "" {
		logging.WarnWithContext(s.logger, "no track carries speaker; using default track", "speaker_track_fallback",
			logging.String(logging.FieldEpisodeID, episodeID),
			logging.String("speaker", speaker),
			logging.String("track", t.Name),
			logging.String(logging.FieldImpact, "segment audio comes from the default track"),
			logging.String(logging.FieldErrorHint, "register the speaker on a track"),
		)
	}
	return t, nil
}
