package wildfire

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"wildfiregpt/internal/tools"
)

// Matches the grid spacing of the FWI projection data: a point more than
// this far from every cell centroid is outside the covered domain.
const maxCellDistanceKm = 36.0

// Season and period labels for the FWI narrative, in output order.
var (
	seasonNames = [4]string{"spring", "summer", "autumn", "winter"}
	periodSpans = [3]string{"1995 - 2004", "2045 - 2054", "2085 - 2094"}
)

// FireWeatherIndex reports seasonal FWI values and danger classes for the
// grid cell nearest the requested location, across the historical,
// mid-century, and end-of-century periods.
func (d *Dataset) FireWeatherIndex(ctx context.Context, args map[string]any) (*tools.Result, error) {
	lat, lon, err := floatArgs(args, "lat", "lon")
	if err != nil {
		return nil, err
	}
	if len(d.fwi) == 0 {
		return nil, fmt.Errorf("fire weather index data is not available")
	}

	best, bestDist := -1, math.MaxFloat64
	for i, r := range d.fwi {
		if dist := haversineKm(lat, lon, r.Lat, r.Lon); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if bestDist > maxCellDistanceKm {
		return nil, fmt.Errorf("location (lat: %v, lon: %v) is outside the FWI data coverage", lat, lon)
	}
	cell := d.fwi[best]

	var b strings.Builder
	openers := [3]string{
		fmt.Sprintf("Historically (%s), the Fire Weather Index (FWI) for location (lat: %v, lon: %v) is", periodSpans[0], lat, lon),
		fmt.Sprintf("In the mid-century (%s), the FWI is projected to be", periodSpans[1]),
		fmt.Sprintf("In the end-of-century (%s), the FWI is projected to be", periodSpans[2]),
	}
	for period := 0; period < 3; period++ {
		if period > 0 {
			b.WriteString(" ")
		}
		b.WriteString(openers[period])
		for season := 0; season < 4; season++ {
			v := cell.Values[season][period]
			switch season {
			case 0:
				b.WriteString(fmt.Sprintf(" %.2f (%s) in %s,", v, categorizeFWI(v), seasonNames[season]))
			case 3:
				b.WriteString(fmt.Sprintf(" and %.2f (%s) in %s.", v, categorizeFWI(v), seasonNames[season]))
			default:
				b.WriteString(fmt.Sprintf(" %.2f (%s) in %s,", v, categorizeFWI(v), seasonNames[season]))
			}
		}
	}

	chart := tools.Artifact{
		Kind:  tools.ArtifactChart,
		Title: "Seasonal Fire Weather Index projections",
		Spec: map[string]any{
			"lat":     cell.Lat,
			"lon":     cell.Lon,
			"seasons": seasonNames[:],
			"periods": periodSpans[:],
			"values":  cell.Values,
		},
	}
	return &tools.Result{Text: b.String(), Charts: []tools.Artifact{chart}}, nil
}

// LongTermFireHistory summarizes per-decade fire occurrence counts from the
// tree-ring record near the requested location.
func (d *Dataset) LongTermFireHistory(ctx context.Context, args map[string]any) (*tools.Result, error) {
	lat, lon, err := floatArgs(args, "lat", "lon")
	if err != nil {
		return nil, err
	}
	if len(d.history) == 0 {
		return nil, fmt.Errorf("long term fire history records are not available")
	}

	byDecade := make(map[int]int)
	total := 0
	for _, e := range d.history {
		if haversineKm(lat, lon, e.Lat, e.Lon) > maxCellDistanceKm {
			continue
		}
		byDecade[(e.Year/10)*10]++
		total++
	}
	if total == 0 {
		return nil, fmt.Errorf("no fire history records found within %.0f km of (lat: %v, lon: %v)", maxCellDistanceKm, lat, lon)
	}

	decades := make([]int, 0, len(byDecade))
	for d := range byDecade {
		decades = append(decades, d)
	}
	sort.Ints(decades)

	var b strings.Builder
	fmt.Fprintf(&b, "Tree-ring records within %.0f km of location (lat: %v, lon: %v) document %d fire occurrences between %d and %d. Fire occurrences per decade:\n",
		maxCellDistanceKm, lat, lon, total, decades[0], decades[len(decades)-1]+9)
	counts := make([]int, 0, len(decades))
	for _, dec := range decades {
		fmt.Fprintf(&b, "%d - %d: %d occurrences\n", dec, dec+9, byDecade[dec])
		counts = append(counts, byDecade[dec])
	}

	chart := tools.Artifact{
		Kind:  tools.ArtifactChart,
		Title: "Fire occurrences per decade",
		Spec:  map[string]any{"decades": decades, "counts": counts},
	}
	return &tools.Result{Text: b.String(), Charts: []tools.Artifact{chart}}, nil
}

// RecentFireIncidents lists recorded wildland fire incidents near the
// requested location, most recent first.
func (d *Dataset) RecentFireIncidents(ctx context.Context, args map[string]any) (*tools.Result, error) {
	lat, lon, err := floatArgs(args, "lat", "lon")
	if err != nil {
		return nil, err
	}
	if len(d.incidents) == 0 {
		return nil, fmt.Errorf("recent fire incident data is not available")
	}

	var nearby []fireEvent
	for _, e := range d.incidents {
		if haversineKm(lat, lon, e.Lat, e.Lon) <= maxCellDistanceKm {
			nearby = append(nearby, e)
		}
	}
	if len(nearby) == 0 {
		return nil, fmt.Errorf("no recent fire incidents found within %.0f km of (lat: %v, lon: %v)", maxCellDistanceKm, lat, lon)
	}
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].Year > nearby[j].Year })

	var b strings.Builder
	fmt.Fprintf(&b, "%d wildland fire incidents recorded within %.0f km of location (lat: %v, lon: %v):\n", len(nearby), maxCellDistanceKm, lat, lon)
	markers := make([]map[string]any, 0, len(nearby))
	for _, e := range nearby {
		name := e.Name
		if name == "" {
			name = "Unnamed fire"
		}
		fmt.Fprintf(&b, "- %s (%d): %.0f acres burned\n", name, e.Year, e.Acres)
		markers = append(markers, map[string]any{"lat": e.Lat, "lon": e.Lon, "name": name, "year": e.Year, "acres": e.Acres})
	}

	m := tools.Artifact{
		Kind:  tools.ArtifactMap,
		Title: "Recent fire incidents",
		Spec:  map[string]any{"center": map[string]any{"lat": lat, "lon": lon}, "markers": markers},
	}
	return &tools.Result{Text: b.String(), Maps: []tools.Artifact{m}}, nil
}

// literatureHits caps how many publications a search returns.
const literatureHits = 3

// SearchLiterature scores the corpus against the query and returns the top
// matches as citation plus abstract.
func (d *Dataset) SearchLiterature(ctx context.Context, args map[string]any) (*tools.Result, error) {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must be a non-empty string")
	}
	if len(d.literature) == 0 {
		return nil, fmt.Errorf("the literature corpus is not available")
	}

	terms := strings.Fields(strings.ToLower(query))
	type scored struct {
		pub   publication
		score int
	}
	var hits []scored
	for _, p := range d.literature {
		haystack := strings.ToLower(p.Title + " " + p.Abstract)
		score := 0
		for _, t := range terms {
			score += strings.Count(haystack, t)
		}
		if score > 0 {
			hits = append(hits, scored{pub: p, score: score})
		}
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("no publications matched %q", query)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > literatureHits {
		hits = hits[:literatureHits]
	}

	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		abstract := h.pub.Abstract
		if abstract == "" {
			abstract = "Abstract not found."
		}
		fmt.Fprintf(&b, "Citation: %s\nAbstract: %s", formatAPACitation(h.pub), abstract)
	}
	return tools.TextResult(b.String())
}

// formatAPACitation renders an APA-style citation. More than two authors
// collapse to "First et al."; exactly two join with an ampersand.
func formatAPACitation(p publication) string {
	authors := splitAuthors(p.Authors)
	var authorPart string
	switch {
	case len(authors) > 2:
		authorPart = authors[0] + " et al."
	case len(authors) == 2:
		authorPart = authors[0] + " & " + authors[1]
	case len(authors) == 1:
		authorPart = authors[0]
	default:
		authorPart = "Author unknown"
	}

	parts := []string{authorPart}
	if p.Year != "" {
		parts = append(parts, "("+p.Year+")")
	}
	if p.Title != "" {
		parts = append(parts, p.Title)
	}
	if p.Journal != "" {
		parts = append(parts, p.Journal)
	}
	return strings.Join(parts, ". ") + "."
}

func splitAuthors(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ";") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// CensusFigures reports population and housing counts for the tract nearest
// the requested location.
func (d *Dataset) CensusFigures(ctx context.Context, args map[string]any) (*tools.Result, error) {
	lat, lon, err := floatArgs(args, "lat", "lon")
	if err != nil {
		return nil, err
	}
	if len(d.census) == 0 {
		return nil, fmt.Errorf("census data is not available")
	}

	best, bestDist := -1, math.MaxFloat64
	for i, t := range d.census {
		if dist := haversineKm(lat, lon, t.Lat, t.Lon); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if bestDist > maxCellDistanceKm {
		return nil, fmt.Errorf("no census tract found within %.0f km of (lat: %v, lon: %v)", maxCellDistanceKm, lat, lon)
	}
	t := d.census[best]
	text := fmt.Sprintf("Census tract %s (nearest to lat: %v, lon: %v) has a population of %d and %d housing units.",
		t.Tract, lat, lon, t.Population, t.HousingUnits)
	return tools.TextResult(text)
}

// VerifyLocationOnMap echoes the location back as a map artifact so the
// client can confirm it before any data tool runs against it.
func VerifyLocationOnMap(ctx context.Context, args map[string]any) (*tools.Result, error) {
	lat, lon, err := floatArgs(args, "lat", "lon")
	if err != nil {
		return nil, err
	}
	m := tools.Artifact{
		Kind:  tools.ArtifactMap,
		Title: "Location to verify",
		Spec:  map[string]any{"lat": lat, "lon": lon, "zoom": 10},
	}
	text := fmt.Sprintf("A map of the location (lat: %v, lon: %v) is displayed. Please ask the client to confirm this is the right location.", lat, lon)
	return &tools.Result{Text: text, Maps: []tools.Artifact{m}}, nil
}

// floatArgs extracts two named float arguments, accepting the numeric types
// JSON decoding and the LLM actually produce.
func floatArgs(args map[string]any, aName, bName string) (float64, float64, error) {
	a, err := floatArg(args, aName)
	if err != nil {
		return 0, 0, err
	}
	b, err := floatArg(args, bName)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func floatArg(args map[string]any, name string) (float64, error) {
	switch v := args[name].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%s must be a number", name)
}
