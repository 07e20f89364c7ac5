// Package cehq parses the hydrometric data table published by the CEHQ.
package cehq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

const (
	UnitMeters      = "m"
	UnitCubicMeters = "m³/s"

	dateTimeLayout = "2006-01-02 15:04:05"
	stationCaption = "Niveau d'eau et débit à la station"
)

var (
	ErrNoTable = errors.New("data table with Date/Heure/Niveau/Débit header not found")
	ErrNoRows  = errors.New("no data row below the table header")

	nonNumeric = regexp.MustCompile(`[^0-9,.]`)
)

// Parser extracts the latest reading of a station.
type Parser struct {
	PipelineID        domain.PipelineID
	ArtifactName      string
	StationNumber     string
	StationNamePrefix string
	RiverName         string // overrides the name found on the page
	RiverNameFallback string
	SourceURL         string
	Location          *time.Location // timezone of the table, America/Montreal
}

// Transform parses page and returns the reading as a JSON artifact.
func (p *Parser) Transform(ctx context.Context, page []byte, at time.Time) (domain.Artifact, error) {
	reading, err := p.Parse(page)
	if err != nil {
		return domain.Artifact{}, err
	}
	data, err := json.MarshalIndent(reading, "", "  ")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("encode reading: %w", err)
	}
	return domain.NewArtifact(p.PipelineID, p.ArtifactName, "application/json", append(data, '\n'), at), nil
}

// Parse returns the first data row of the station table.
func (p *Parser) Parse(page []byte) (domain.Reading, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return domain.Reading{}, fmt.Errorf("parse html: %w", err)
	}

	header, row, err := findRows(doc)
	if err != nil {
		return domain.Reading{}, err
	}

	cells := row.ChildrenFiltered("td")
	if cells.Length() < 4 {
		return domain.Reading{}, fmt.Errorf("latest row has %d cells, want at least 4", cells.Length())
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	stamp := cleanText(cells.Eq(0).Text()) + " " + cleanText(cells.Eq(1).Text())
	observed, err := time.ParseInLocation(dateTimeLayout, stamp, loc)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("parse timestamp %q: %w", stamp, err)
	}

	height, err := parseNumber(cells.Eq(2).Text())
	if err != nil {
		return domain.Reading{}, fmt.Errorf("parse height: %w", err)
	}
	flow, err := parseNumber(cells.Eq(3).Text())
	if err != nil {
		return domain.Reading{}, fmt.Errorf("parse flow: %w", err)
	}

	stationID := strings.TrimSpace(doc.Find("#spnNoStation").First().Text())
	if stationID == "" {
		stationID = p.StationNumber
	}

	headerCells := header.ChildrenFiltered("td")
	reading := domain.Reading{
		StationID:   stationID,
		StationName: p.stationName(doc, stationID),
		Height:      height,
		HeightUnit:  heightUnit(fontText(headerCells.Eq(2))),
		Flow:        flow,
		FlowUnit:    flowUnit(fontText(headerCells.Eq(3))),
		ObservedAt:  observed,
		SourceURL:   p.SourceURL,
	}

	slog.Debug("Parsed station reading",
		"station", reading.StationID,
		"observed", observed.Format(time.RFC3339),
		"height", reading.Height,
		"flow", reading.Flow)
	return reading, nil
}

// findRows returns the header row and the first data row below it.
func findRows(doc *goquery.Document) (*goquery.Selection, *goquery.Selection, error) {
	var header, data *goquery.Selection
	found := false

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Closest("table").IsSelection(table)
		})
		rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
			if !isHeader(tr) {
				return true
			}
			found = true
			header = tr
			if i+1 < rows.Length() {
				data = rows.Eq(i + 1)
			}
			return false
		})
		return !found
	})

	if !found {
		return nil, nil, ErrNoTable
	}
	if data == nil {
		return nil, nil, ErrNoRows
	}
	return header, data, nil
}

func isHeader(tr *goquery.Selection) bool {
	cells := tr.ChildrenFiltered("td")
	if cells.Length() < 4 {
		return false
	}
	want := []string{"Date", "Heure", "Niveau", "Débit"}
	for i, w := range want {
		if !strings.Contains(fontText(cells.Eq(i)), w) {
			return false
		}
	}
	return true
}

func (p *Parser) stationName(doc *goquery.Document, stationID string) string {
	river := p.RiverName
	if river == "" {
		river = p.RiverNameFallback
		doc.Find(`p[align="center"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if _, hasClass := s.Attr("class"); hasClass {
				return true
			}
			text := cleanText(s.Text())
			if !strings.Contains(text, stationCaption) {
				return true
			}
			_, after, ok := strings.Cut(text, stationID)
			after = strings.TrimSpace(after)
			if ok && strings.Contains(after, " - ") {
				parts := strings.Split(after, " - ")
				river = strings.TrimSpace(parts[len(parts)-1])
			}
			return false
		})
	}

	if p.StationNamePrefix != "" {
		return fmt.Sprintf("%s - %s - %s", p.StationNamePrefix, stationID, river)
	}
	return fmt.Sprintf("%s - %s", stationID, river)
}

func fontText(td *goquery.Selection) string {
	font := td.Find("font").First()
	if font.Length() == 0 {
		return ""
	}
	return cleanText(font.Text())
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}

// parseNumber accepts French decimal commas ("1,234" is 1.234).
func parseNumber(s string) (float64, error) {
	s = nonNumeric.ReplaceAllString(s, "")
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

func heightUnit(header string) string {
	switch {
	case strings.Contains(header, "(m)"), strings.EqualFold(header, "m"):
		return UnitMeters
	case strings.Contains(header, "m") && strings.Contains(header, "Niveau"):
		return UnitMeters
	}
	return ""
}

func flowUnit(header string) string {
	if strings.Contains(header, UnitCubicMeters) || strings.Contains(header, "m3/s") {
		return UnitCubicMeters
	}
	return ""
}
