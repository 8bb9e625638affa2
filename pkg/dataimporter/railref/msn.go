package railref

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulcager/osgridref"
)

// PhysicalStation is an A record of the Master Station Names file
type PhysicalStation struct {
	StationName                string
	CATEInterchangeStatus      string
	TIPLOCCode                 string
	MinorCRSCode               string
	CRSCode                    string
	OrdnanceSurveyGridRefEast  string
	OrdnanceSurveyGridRefNorth string
	MinimumChangeTime          string
}

type StationAlias struct {
	StationName  string
	StationAlias string
}

type MasterStationNames struct {
	PhysicalStations []PhysicalStation
	StationAliases   []StationAlias
}

func field(line string, start int, end int) string {
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start:end])
}

func ParseMSN(reader io.Reader) (*MasterStationNames, error) {
	msn := &MasterStationNames{}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		switch line[0:1] {
		case "A":
			// The header record is also an A record but has no TIPLOC
			if strings.HasPrefix(line, "A    FILE-SPEC") {
				continue
			}

			msn.PhysicalStations = append(msn.PhysicalStations, PhysicalStation{
				StationName:                field(line, 5, 31),
				CATEInterchangeStatus:      field(line, 35, 36),
				TIPLOCCode:                 field(line, 36, 43),
				MinorCRSCode:               field(line, 43, 46),
				CRSCode:                    field(line, 49, 52),
				OrdnanceSurveyGridRefEast:  field(line, 52, 57),
				OrdnanceSurveyGridRefNorth: field(line, 58, 63),
				MinimumChangeTime:          field(line, 63, 65),
			})
		case "L":
			msn.StationAliases = append(msn.StationAliases, StationAlias{
				StationName:  field(line, 5, 31),
				StationAlias: field(line, 36, 62),
			})
		}
	}

	return msn, scanner.Err()
}

// LatLon converts the MSN grid fields to WGS84. Eastings are stored as 1 followed by the
// easting in units of 100m, northings are prefixed with 6 the same way.
func (s *PhysicalStation) LatLon() (float64, float64, error) {
	east, err := strconv.Atoi(s.OrdnanceSurveyGridRefEast)
	if err != nil {
		return 0, 0, fmt.Errorf("station %s easting: %w", s.TIPLOCCode, err)
	}
	north, err := strconv.Atoi(s.OrdnanceSurveyGridRefNorth)
	if err != nil {
		return 0, 0, fmt.Errorf("station %s northing: %w", s.TIPLOCCode, err)
	}

	if east < 10000 || north < 60000 {
		return 0, 0, fmt.Errorf("station %s has no grid reference", s.TIPLOCCode)
	}

	gridRef, err := osgridref.ParseOsGridRef(fmt.Sprintf("%d,%d", (east-10000)*100, (north-60000)*100))
	if err != nil {
		return 0, 0, err
	}

	latitude, longitude := gridRef.ToLatLon()
	return latitude, longitude, nil
}
