// Package manifest parses HLS playlists into variants, segments and
// ad-insertion markers (spec.md §4.2). The parser is total: a malformed
// or unrecognized line is skipped rather than failing the whole parse.
package manifest

import (
	"bufio"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

const (
	tagStreamInf  = "#EXT-X-STREAM-INF:"
	tagExtInf     = "#EXTINF:"
	tagDateRange  = "#EXT-X-DATERANGE:"
	tagCueOut     = "#EXT-X-CUE-OUT"
	tagCueIn      = "#EXT-X-CUE-IN"
	tagBandwidthR = "#EXT-X-BANDWIDTH-RESERVATION"
)

// Result is the outcome of parsing one playlist.
type Result struct {
	Variants  []models.VariantStream
	Segments  []string
	AdMarkers []models.AdMarker
}

// IsMasterPlaylist reports whether a Result describes a master playlist
// (variants present, no segments) rather than a media playlist.
func (r Result) IsMasterPlaylist() bool {
	return len(r.Segments) == 0 && len(r.Variants) > 0
}

// Parse tokenizes playlist text. baseURL resolves relative URIs; pass nil
// to leave URIs unresolved (tests commonly do this).
func Parse(text string, baseURL *url.URL) Result {
	var res Result

	scanner := bufio.NewScanner(strings.NewReader(text))
	// Segment/variant URIs and ad-insertion tags can be long; default
	// bufio.Scanner token size is usually enough but raise the cap to be
	// defensive against very long URLs with query strings.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pendingVariant *models.VariantStream
	var pendingDuration float64
	var pendingIsSegment bool

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, tagStreamInf):
			attrs := parseAttributes(line[len(tagStreamInf):])
			v := models.VariantStream{
				Resolution: attrs["RESOLUTION"],
				Codecs:     strings.Trim(attrs["CODECS"], `"`),
			}
			if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
				v.Bandwidth = bw
			}
			if fr, err := strconv.ParseFloat(attrs["FRAME-RATE"], 64); err == nil {
				v.FrameRate = fr
			}
			pendingVariant = &v
			pendingIsSegment = false
			continue

		case strings.HasPrefix(line, tagExtInf):
			fields := strings.SplitN(line[len(tagExtInf):], ",", 2)
			if d, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64); err == nil {
				pendingDuration = d
			}
			pendingIsSegment = true
			continue

		case strings.HasPrefix(line, tagDateRange):
			res.AdMarkers = append(res.AdMarkers, parseDateRange(line[len(tagDateRange):]))
			continue

		case strings.HasPrefix(line, tagCueOut):
			res.AdMarkers = append(res.AdMarkers, parseCueOut(line))
			continue

		case strings.HasPrefix(line, tagCueIn):
			res.AdMarkers = append(res.AdMarkers, models.AdMarker{
				Type:       "cue-in",
				DetectedAt: time.Now().UTC(),
			})
			continue

		case strings.HasPrefix(line, tagBandwidthR):
			res.AdMarkers = append(res.AdMarkers, parseBandwidthReservation(line))
			continue

		case strings.HasPrefix(line, "#"):
			// Unknown tag (or #EXTM3U, #EXT-X-VERSION, etc.) — ignored.
			continue

		default:
			uri := resolve(line, baseURL)
			switch {
			case pendingVariant != nil:
				pendingVariant.URI = uri
				res.Variants = append(res.Variants, *pendingVariant)
				pendingVariant = nil
			case pendingIsSegment:
				res.Segments = append(res.Segments, uri)
				_ = pendingDuration
				pendingIsSegment = false
				pendingDuration = 0
			}
		}
	}

	return res
}

func resolve(uri string, base *url.URL) string {
	if base == nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}

// parseAttributes splits an `A=1,B="x,y",C=2` attribute list, respecting
// quoted commas.
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	var key strings.Builder
	var val strings.Builder
	inQuotes := false
	inKey := true

	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			out[k] = val.String()
		}
		key.Reset()
		val.Reset()
		inKey = true
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			if !inKey {
				val.WriteRune(r)
			}
		case r == '=' && inKey && !inQuotes:
			inKey = false
		case r == ',' && !inQuotes:
			flush()
		default:
			if inKey {
				key.WriteRune(r)
			} else {
				val.WriteRune(r)
			}
		}
	}
	flush()

	for k, v := range out {
		out[k] = strings.Trim(v, `"`)
	}
	return out
}

func parseDateRange(attrString string) models.AdMarker {
	attrs := parseAttributes(attrString)
	class := attrs["CLASS"]
	marker := models.AdMarker{
		Type:       "daterange",
		ID:         attrs["ID"],
		Class:      class,
		StartDate:  attrs["START-DATE"],
		DetectedAt: time.Now().UTC(),
	}
	if d, err := strconv.ParseFloat(attrs["DURATION"], 64); err == nil {
		marker.Duration = d
	}
	return marker
}

func parseCueOut(line string) models.AdMarker {
	marker := models.AdMarker{Type: "cue-out", DetectedAt: time.Now().UTC()}
	rest := strings.TrimPrefix(line, tagCueOut)
	rest = strings.TrimPrefix(rest, ":")
	if rest == "" {
		return marker
	}
	if strings.Contains(rest, "DURATION=") {
		attrs := parseAttributes(rest)
		if d, err := strconv.ParseFloat(attrs["DURATION"], 64); err == nil {
			marker.Duration = d
		}
		return marker
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil {
		marker.Duration = d
	}
	return marker
}

// parseBandwidthReservation handles a non-standard tag some ad-insertion
// systems emit to reserve downstream bandwidth for an upcoming break.
func parseBandwidthReservation(line string) models.AdMarker {
	marker := models.AdMarker{Type: "bandwidth-reservation", DetectedAt: time.Now().UTC()}
	idx := strings.Index(line, ":")
	if idx < 0 {
		return marker
	}
	attrs := parseAttributes(line[idx+1:])
	if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
		marker.Bandwidth = bw
	}
	if d, err := strconv.ParseFloat(attrs["DURATION"], 64); err == nil {
		marker.Duration = d
	}
	return marker
}

// SelectVariant picks the highest-bandwidth variant; ties keep the first
// occurrence (spec.md §4.1).
func SelectVariant(variants []models.VariantStream) (models.VariantStream, bool) {
	if len(variants) == 0 {
		return models.VariantStream{}, false
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}
