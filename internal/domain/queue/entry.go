// Package queue provides the QueueEntry domain entity.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheBlackParrot/SpinRequests/internal/infra/spinshare"
	zlog "github.com/rs/zerolog/log"
)

// Tier identifies a difficulty tier on a chart.
type Tier string

const (
	TierEasy   Tier = "Easy"
	TierNormal Tier = "Normal"
	TierHard   Tier = "Hard"
	TierExpert Tier = "Expert"
	TierXD     Tier = "XD"
	TierRemiXD Tier = "RemiXD"
)

// Tiers lists all difficulty tiers in display order.
var Tiers = []Tier{TierEasy, TierNormal, TierHard, TierExpert, TierXD, TierRemiXD}

// Ratings maps difficulty tiers to their integer rating. A missing key
// means the chart has no data at that tier, which is distinct from zero.
type Ratings map[Tier]int

// Rating returns the rating for a tier and whether the chart has one.
func (r Ratings) Rating(tier Tier) (int, bool) {
	v, ok := r[tier]
	return v, ok
}

// Entry represents one request for one song. Field names double as the
// wire format for the HTTP API, the firehose, and the persisted queue.
type Entry struct {
	Title    string `json:"Title"`
	Subtitle string `json:"Subtitle"`
	Artist   string `json:"Artist"`
	Mapper   string `json:"Mapper"`
	Duration *int   `json:"Duration"`

	// SpinShareKey is set for custom charts, NonCustomId for bundled
	// content; IsCustom decides which one is meaningful.
	SpinShareKey *int    `json:"SpinShareKey"`
	NonCustomId  *string `json:"NonCustomId"`
	IsCustom     bool    `json:"IsCustom"`

	Requester   string `json:"Requester"`
	Service     string `json:"Service"`
	RequestedAt *int64 `json:"RequestedAt"`

	Ratings          Ratings `json:"Ratings"`
	ActiveDifficulty *Tier   `json:"ActiveDifficulty"`

	// FileReference is the stable identity key for a song asset. It is
	// nil only for bundled content with no stable reference.
	FileReference *string `json:"FileReference"`
	UploadTime    *int64  `json:"UploadTime"`

	// UpdateTime (unix seconds) is the chart's last upstream revision,
	// published read-only and consulted when computing AlreadyDownloaded.
	UpdateTime *int64 `json:"UpdateTime"`
}

// RequestContext carries requester provenance parsed from the HTTP query
// string.
type RequestContext struct {
	User    string `mapstructure:"user"`
	Service string `mapstructure:"service"`
	Force   bool   `mapstructure:"force"`
}

// NewEntryFromDetail builds an entry from a full SpinShare detail payload.
func NewEntryFromDetail(details *spinshare.SongDetail, rc *RequestContext) *Entry {
	key := details.ID
	ref := details.FileReference
	now := time.Now().Unix()

	e := &Entry{
		IsCustom:      true,
		Title:         details.Title,
		Subtitle:      details.Subtitle,
		Artist:        details.Artist,
		Mapper:        details.Charter,
		SpinShareKey:  &key,
		FileReference: &ref,
		RequestedAt:   &now,
		Ratings:       make(Ratings),
	}

	// The API sometimes reports 0 instead of omitting a tier, so the
	// paired has* booleans decide presence.
	if details.HasEasyDifficulty {
		e.Ratings[TierEasy] = details.EasyDifficulty
	}
	if details.HasNormalDifficulty {
		e.Ratings[TierNormal] = details.NormalDifficulty
	}
	if details.HasHardDifficulty {
		e.Ratings[TierHard] = details.HardDifficulty
	}
	if details.HasExpertDifficulty {
		e.Ratings[TierExpert] = details.ExpertDifficulty
	}
	if details.HasXDDifficulty {
		e.Ratings[TierXD] = details.XDDifficulty
	}

	if uploaded, err := spinshare.ParseAPIDate(details.UploadDate); err == nil {
		ts := uploaded.Unix()
		e.UploadTime = &ts
	} else {
		zlog.Warn().Err(err).Int("chart", details.ID).Msg("could not parse upload date")
	}
	if details.UpdateDate != nil {
		if updated, err := spinshare.ParseAPIDate(*details.UpdateDate); err == nil {
			ts := updated.Unix()
			e.UpdateTime = &ts
		}
	}

	if rc != nil {
		e.Requester = rc.User
		e.Service = rc.Service
	}

	return e
}

// TrackMetadata is a plain-data snapshot of an in-engine track. The live
// engine handle stays with the engine; entries only keep the string
// reference and resolve the handle on demand.
type TrackMetadata struct {
	Title           string
	Subtitle        string
	ArtistName      string
	FeatArtists     string
	Charter         string
	DurationSeconds int
	TrackOrder      int
	UniqueName      string
	IsCustom        bool
	Ratings         Ratings
	ActiveTier      *Tier
	ActiveRating    *int
}

// NewEntryFromTrack builds an entry from live in-engine track metadata.
func NewEntryFromTrack(meta TrackMetadata, rc *RequestContext) *Entry {
	artist := meta.ArtistName
	if meta.FeatArtists != "" {
		artist = fmt.Sprintf("%s %s", meta.ArtistName, meta.FeatArtists)
	}

	duration := meta.DurationSeconds
	nonCustomID := NonCustomID(meta.TrackOrder)
	ref := SafeReference(meta.UniqueName)
	now := time.Now().Unix()

	e := &Entry{
		Title:       meta.Title,
		Subtitle:    meta.Subtitle,
		Artist:      artist,
		Mapper:      meta.Charter,
		Duration:    &duration,
		NonCustomId: &nonCustomID,
		IsCustom:    meta.IsCustom,
		RequestedAt: &now,
		Ratings:     make(Ratings),
	}
	if ref != "" {
		e.FileReference = &ref
	}

	for tier, rating := range meta.Ratings {
		e.Ratings[tier] = rating
	}
	if meta.ActiveTier != nil {
		tier := *meta.ActiveTier
		e.ActiveDifficulty = &tier
		if meta.ActiveRating != nil {
			e.Ratings[tier] = *meta.ActiveRating
		}
	}

	if rc != nil {
		e.Requester = rc.User
		e.Service = rc.Service
	}

	return e
}

// dlcAbbreviations maps the thousand-block of a track order to its DLC
// pack abbreviation.
var dlcAbbreviations = map[int]string{
	0:    "BG", // Base game
	1000: "MC", // Monstercat
	2000: "CH", // Chillhop
	3000: "SP", // Supporter Pack
	4000: "IN", // Indie Pack
}

// NonCustomID derives the bundled-content identifier from a track order,
// e.g. order 1037 -> "MC37".
func NonCustomID(trackOrder int) string {
	pack, ok := dlcAbbreviations[trackOrder-trackOrder%1000]
	if !ok {
		pack = "BG"
	}
	return fmt.Sprintf("%s%d", pack, trackOrder%1000)
}

// SafeReference strips the version suffix and the CUSTOM_ prefix from an
// engine unique name, yielding the stable file reference.
func SafeReference(reference string) string {
	if idx := strings.LastIndex(reference, "_"); idx != -1 {
		reference = reference[:idx]
	}
	return strings.ReplaceAll(reference, "CUSTOM_", "")
}

// SameSong reports whether two entries refer to the same song asset.
// FileReference equality is the sole identity; all other fields may
// differ between requests for the same song.
func (e *Entry) SameSong(other *Entry) bool {
	if e == nil || other == nil || e.FileReference == nil || other.FileReference == nil {
		return false
	}
	return *e.FileReference == *other.FileReference
}

// ChartPath returns the path of the entry's chart bundle inside customsDir.
func (e *Entry) ChartPath(customsDir string) string {
	ref := ""
	if e.FileReference != nil {
		ref = *e.FileReference
	}
	return filepath.Join(customsDir, ref+".srtb")
}

// AlbumArtPath returns the path of the entry's album art inside customsDir.
func (e *Entry) AlbumArtPath(customsDir string) string {
	ref := ""
	if e.FileReference != nil {
		ref = *e.FileReference
	}
	return filepath.Join(customsDir, "AlbumArt", ref+".png")
}

// AlreadyDownloaded reports whether the entry's asset is present locally.
// Bundled content is always present. A custom chart counts as downloaded
// when its bundle exists and is at least as new as the known upstream
// revision; an unknown revision trusts the local file.
func (e *Entry) AlreadyDownloaded(customsDir string) bool {
	if !e.IsCustom {
		return true
	}
	if e.FileReference == nil {
		return false
	}

	info, err := os.Stat(e.ChartPath(customsDir))
	if err != nil {
		return false
	}

	return e.UpdateTime == nil || !info.ModTime().Before(time.Unix(*e.UpdateTime, 0))
}

// CatalogKey returns the human-facing identifier for logs and toasts:
// the SpinShare key for customs, the DLC ID otherwise.
func (e *Entry) CatalogKey() string {
	if e.SpinShareKey != nil {
		return fmt.Sprintf("%d", *e.SpinShareKey)
	}
	if e.NonCustomId != nil {
		return *e.NonCustomId
	}
	return "?"
}
